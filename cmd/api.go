package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/obbylabs/obby/internal/client"
	"github.com/obbylabs/obby/internal/config"
)

// Per-call deadlines. Chat and forced note updates run LLM loops and
// get the long one.
const (
	apiTimeout     = 10 * time.Second
	apiLongTimeout = 5 * time.Minute
)

// apiClient builds a client for the configured server port. A positive
// override wins over the config value.
func apiClient(portOverride int) (*client.Client, error) {
	root, err := filepath.Abs(watchDir)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if portOverride > 0 {
		port = portOverride
	}
	return client.New(fmt.Sprintf("http://127.0.0.1:%d", port)), nil
}

func apiContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), apiTimeout)
}

func apiLongContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), apiLongTimeout)
}

// isAPIError reports whether err is a structured server reply rather
// than a transport failure.
func isAPIError(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr)
}

// reachErr keeps API errors as-is and turns transport failures into a
// hint to start the server.
func reachErr(c *client.Client, err error) error {
	if err == nil {
		return nil
	}
	if isAPIError(err) {
		return err
	}
	return fmt.Errorf("cannot reach the obby server at %s (start it with \"obby serve\"): %w", c.BaseURL(), err)
}

// confirm prompts for a y/N answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var response string
	_, _ = fmt.Scanln(&response)
	return response == "y" || response == "Y"
}

// timeAgo renders a timestamp as a compact age like "3m" or "2d".
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if max <= 3 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
