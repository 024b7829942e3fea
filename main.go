package main

import "github.com/obbylabs/obby/cmd"

func main() {
	cmd.Execute()
}
