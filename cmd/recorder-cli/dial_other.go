//go:build !windows

package main

import "net"

func dialEndpoint(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}
