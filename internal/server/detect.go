package server

import (
	"bufio"
	"bytes"
	"net"
	"strings"
)

// maxHandshakePeek bounds how many bytes of a connection are inspected when
// deciding between raw PCM and a WebSocket handshake. An HTTP request whose
// headers exceed this is treated as PCM and will fail naturally.
const maxHandshakePeek = 4096

// bufferedConn is a net.Conn whose reads go through a bufio.Reader, so bytes
// peeked during protocol detection are not lost to the protocol handler.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// isWebSocketHandshake peeks at the connection's first bytes and reports
// whether they are an HTTP GET carrying a WebSocket upgrade. The peeked
// bytes stay in the reader either way.
//
// Raw PCM virtually never begins with "GET ", so the common case is decided
// on four bytes without waiting for more data.
func isWebSocketHandshake(br *bufio.Reader) bool {
	head, err := br.Peek(4)
	if err != nil || !bytes.Equal(head, []byte("GET ")) {
		return false
	}

	for {
		// Inspect what has already arrived without blocking for more.
		buf, _ := br.Peek(br.Buffered())
		if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
			return hasWebSocketUpgrade(buf[:i])
		}
		if len(buf) >= maxHandshakePeek {
			// Header terminator never arrived within the peek budget.
			return false
		}
		// Block until at least one more byte arrives. Growing by one keeps
		// the wait tied to what the client actually sends; a fixed fill size
		// would stall on handshakes shorter than the fill.
		if _, err := br.Peek(len(buf) + 1); err != nil {
			return false
		}
	}
}

// hasWebSocketUpgrade scans raw HTTP header bytes for "Upgrade: websocket".
func hasWebSocketUpgrade(header []byte) bool {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Upgrade") {
			continue
		}
		for _, v := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(v), "websocket") {
				return true
			}
		}
	}
	return false
}
