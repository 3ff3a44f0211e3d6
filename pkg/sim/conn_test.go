package sim

import (
	"net"
	"testing"
	"time"

	"github.com/voltai-inc/Surfer-sub001/pkg/testutil"
)

func recvOne(t *testing.T, c *conn) string {
	t.Helper()
	select {
	case msg, ok := <-c.in:
		if !ok {
			t.Fatalf("connection closed while waiting for a message")
		}
		return msg
	case <-time.After(testutil.Scaled(5 * time.Second)):
		t.Fatalf("timed out waiting for a message")
		panic("unreachable")
	}
}

func TestConn_SplitsCoalescedFrames(t *testing.T) {
	client, server := net.Pipe()
	c := newConn(client)
	defer c.close()

	// Two messages in one write, then one message split over two writes.
	go func() {
		server.Write([]byte("one\x00two\x00"))
		server.Write([]byte("thr"))
		server.Write([]byte("ee\x00"))
	}()

	for _, want := range []string{"one", "two", "three"} {
		if got := recvOne(t, c); got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	}
}

func TestConn_FramesOutgoingMessages(t *testing.T) {
	client, server := net.Pipe()
	c := newConn(client)
	defer c.close()

	c.send("hello")
	c.send("world")

	buf := make([]byte, 0, 12)
	tmp := make([]byte, 16)
	for len(buf) < 12 {
		n, err := server.Read(tmp)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		buf = append(buf, tmp[:n]...)
	}
	if got, want := string(buf), "hello\x00world\x00"; got != want {
		t.Errorf("wire bytes = %q, want %q", got, want)
	}
}

func TestConn_ClosesIncomingOnDisconnect(t *testing.T) {
	client, server := net.Pipe()
	c := newConn(client)
	defer c.close()

	server.Close()
	select {
	case _, ok := <-c.in:
		if ok {
			t.Errorf("got a message from a closed connection")
		}
	case <-time.After(testutil.Scaled(5 * time.Second)):
		t.Fatalf("incoming channel not closed after disconnect")
	}
}
