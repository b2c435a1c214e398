package ipc

import (
	"encoding/json"
	"net"
	"testing"
)

func TestSendRecvRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	clientConn := NewConn(client)

	go func() {
		serverConn.SendTyped("req-1", TypeGetStatus, StatusResponse{State: "idle"})
	}()

	env, err := clientConn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if env.ID != "req-1" || env.Type != TypeGetStatus {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var resp StatusResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if resp.State != "idle" {
		t.Fatalf("expected idle, got %q", resp.State)
	}
}

func TestSendErrorRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	clientConn := NewConn(client)

	go func() {
		serverConn.SendError("req-2", TypeStart, "device busy")
	}()

	env, err := clientConn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if env.Error != "device busy" {
		t.Fatalf("expected error message, got %q", env.Error)
	}
}

func TestRecvRejectsOversizedMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	clientConn := NewConn(client)
	go func() {
		header := []byte{0x7f, 0xff, 0xff, 0xff} // far larger than MaxMessageSize
		server.Write(header)
	}()

	if _, err := clientConn.Recv(); err == nil {
		t.Fatal("expected error for oversized message")
	}
}
