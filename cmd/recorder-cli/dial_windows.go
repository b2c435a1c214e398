//go:build windows

package main

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

func dialEndpoint(endpoint string) (net.Conn, error) {
	timeout := 5 * time.Second
	conn, err := winio.DialPipe(endpoint, &timeout)
	if err != nil {
		return nil, fmt.Errorf("dial pipe %s: %w", endpoint, err)
	}
	return conn, nil
}
