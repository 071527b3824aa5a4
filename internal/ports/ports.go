package ports

import (
	"context"
	"net"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Dialer opens the CLI socket.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PlayerStore remembers the last player selected on a server.
type PlayerStore interface {
	LastPlayer() (string, error)
	SetLastPlayer(playerID string) error
}
