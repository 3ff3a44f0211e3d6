package sim

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// conn shuttles null-delimited messages between the container and the
// simulator over a duplex byte stream. A reader goroutine splits the incoming
// stream into messages and a writer goroutine frames outgoing ones, so the
// container itself never blocks on the socket.
type conn struct {
	rwc io.ReadWriteCloser

	// Outgoing messages, consumed by the writer goroutine.
	out chan string
	// Incoming messages, closed when the stream ends.
	in chan string

	closeOnce sync.Once
}

const connBacklog = 100

// dialConn connects to a simulator over TCP.
func dialConn(ctx context.Context, addr string) (*conn, error) {
	var d net.Dialer
	stream, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to simulator at %s", addr)
	}
	return newConn(stream), nil
}

// newConn starts the io worker on an established stream.
func newConn(rwc io.ReadWriteCloser) *conn {
	c := &conn{
		rwc: rwc,
		out: make(chan string, connBacklog),
		in:  make(chan string, connBacklog),
	}
	go c.reader()
	go c.writer()
	return c
}

func (c *conn) reader() {
	defer close(c.in)
	r := bufio.NewReader(c.rwc)
	for {
		msg, err := r.ReadString('\x00')
		if err != nil {
			if (err != io.EOF || msg != "") && !errors.Is(err, net.ErrClosed) {
				logger.Printf("simulator read failed, shutting down: %v", err)
			}
			return
		}
		c.in <- strings.TrimSuffix(msg, "\x00")
	}
}

func (c *conn) writer() {
	w := bufio.NewWriter(c.rwc)
	for msg := range c.out {
		if _, err := w.WriteString(msg); err != nil {
			logger.Printf("simulator write failed: %v", err)
			return
		}
		if err := w.WriteByte('\x00'); err != nil {
			logger.Printf("simulator write failed: %v", err)
			return
		}
		// Write out whole messages; the protocol is request-response and
		// leaving a partial message buffered would deadlock it.
		if err := w.Flush(); err != nil {
			logger.Printf("simulator write failed: %v", err)
			return
		}
	}
}

// send queues a message for the writer goroutine.
func (c *conn) send(msg string) {
	c.out <- msg
}

// close shuts the connection down. The reader goroutine exits via the read
// error, closing the incoming channel.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.out)
		c.rwc.Close()
	})
}
