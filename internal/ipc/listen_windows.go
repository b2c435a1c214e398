//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// listen opens the control-plane named pipe. Grounded on the teacher's
// internal/sessionbroker/broker_windows.go winio.ListenPipe usage.
func listen(endpoint string) (net.Listener, error) {
	listener, err := winio.ListenPipe(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen pipe %s: %w", endpoint, err)
	}
	return listener, nil
}
