package pool

import (
	"context"
	"fmt"
	"strings"
)

// ConnectionCheck selects how a newly opened connection is verified before it
// is handed out.
type ConnectionCheck int

const (
	// CheckNone opens a session without verification.
	CheckNone ConnectionCheck = iota
	// CheckHealth requires the node to be alive and synced.
	CheckHealth
	// CheckArchive additionally requires the node to serve full history.
	CheckArchive
)

func (c ConnectionCheck) String() string {
	switch c {
	case CheckNone:
		return "none"
	case CheckHealth:
		return "health"
	case CheckArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ParseConnectionCheck parses the text form used in configuration files.
func ParseConnectionCheck(s string) (ConnectionCheck, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CheckNone, nil
	case "health":
		return CheckHealth, nil
	case "archive":
		return CheckArchive, nil
	default:
		return CheckNone, fmt.Errorf("unknown connection check %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ConnectionCheck) MarshalText() ([]byte, error) {
	if c < CheckNone || c > CheckArchive {
		return nil, fmt.Errorf("unknown connection check %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConnectionCheck) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionCheck(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// establish opens a connection through the factory entry point for c.
func (c ConnectionCheck) establish(ctx context.Context, f Factory, params Params, cb Callback) (Conn, *Watcher, error) {
	switch c {
	case CheckNone:
		return f.Connect(ctx, params, cb)
	case CheckHealth:
		return f.ConnectHealthy(ctx, params, cb)
	case CheckArchive:
		return f.ConnectArchive(ctx, params, cb)
	default:
		return nil, nil, fmt.Errorf("unknown connection check %d", int(c))
	}
}
