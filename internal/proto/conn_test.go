package proto

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"
)

func createSocketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	clientCh := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Errorf("dial: %v", err)
			return
		}
		clientCh <- conn
	}()

	serverConn, err := listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	clientConn := <-clientCh
	return serverConn, clientConn
}

func TestConnSendRecv(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	done := make(chan error, 1)
	go func() {
		done <- client.Send(KindNewSession, NewSession{BuildTaskID: "T", Prefs: []PrefEntry{}})
	}()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, raw, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}

	if kind != KindNewSession {
		t.Errorf("expected kind %s, got %s", KindNewSession, kind)
	}

	var req NewSession
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.BuildTaskID != "T" {
		t.Errorf("expected build_task_id T, got %s", req.BuildTaskID)
	}
}

func TestRecvExpectMatchesKind(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	go client.Send(KindNewSessionAck, Ok("A"))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	ack, err := RecvExpect[NewSessionAck](server, KindNewSessionAck)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if ack.IsErr() {
		t.Fatalf("expected Ok ack, got error: %s", ack.Error)
	}
	if ack.Value != "A" {
		t.Errorf("expected session id A, got %s", ack.Value)
	}
}

func TestRecvExpectKindMismatch(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	go client.Send(KindDisableUpdates, Ok(empty{}))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := RecvExpect[NewSessionAck](server, KindNewSessionAck)
	if err == nil {
		t.Fatal("expected kind mismatch error")
	}
	var mismatch *KindMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *KindMismatchError, got %T: %v", err, err)
	}
	if mismatch.Expected != KindNewSessionAck || mismatch.Actual != KindDisableUpdates {
		t.Errorf("unexpected mismatch fields: %+v", mismatch)
	}
}

func TestConnMaxMessageSize(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	client := NewConn(clientConn)

	big := make([]byte, MaxMessageSize+1)
	err := client.Send(KindWritePrefs, string(big))
	if err == nil {
		t.Fatal("expected error for oversized message")
	}
}

func TestConnEndOfStream(t *testing.T) {
	serverConn, clientConn := createSocketPair(t)
	defer clientConn.Close()

	server := NewConn(serverConn)
	clientConn.Close()

	_, _, err := server.Recv()
	if err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}
