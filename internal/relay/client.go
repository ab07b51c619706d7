package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.olrik.dev/mediakey/internal/keys"
)

// SendTimeout is the default time budget for Send.
const SendTimeout = 500 * time.Millisecond

// Send writes one key command to the relay socket at path and closes the
// connection. No reply is expected, so a nil error only means the bytes were
// handed to the socket.
func Send(ctx context.Context, path string, cmd keys.Command) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, SendTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := io.WriteString(conn, strconv.Itoa(int(cmd))); err != nil {
		return fmt.Errorf("failed to send key command: %w", err)
	}
	return nil
}
