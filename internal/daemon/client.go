package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"go.olrik.dev/mediakey/internal/core"
)

// ReplyTimeout bounds how long a client waits for a control response.
const ReplyTimeout = 10 * time.Second

// SendCommand connects to the daemon, sends a command, and returns the response.
func SendCommand(command string) (Response, error) {
	return SendCommandTo(core.GetSocketPath(), command)
}

// SendCommandTo is SendCommand against an explicit socket path.
func SendCommandTo(socketPath, command string) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return response, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ReplyTimeout))

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from daemon: %w", err)
	}

	if err := json.Unmarshal(bytes, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from daemon: %w", err)
	}

	return response, nil
}

// IsRunning reports whether a daemon answers on the control socket.
func IsRunning() bool {
	_, err := SendCommand("VERSION")
	return err == nil
}

// WaitForExit polls until the daemon stops answering or timeout passes.
func WaitForExit(timeout time.Duration) bool {
	const pollInterval = 100 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < timeout; elapsed += pollInterval {
		time.Sleep(pollInterval)
		if !IsRunning() {
			return true
		}
	}
	return false
}
