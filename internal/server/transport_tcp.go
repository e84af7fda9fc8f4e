package server

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"

	"github.com/soniclane/streamscribe/internal/session"
)

// readChunkBytes is the transport read size. 4096 bytes is 128 ms of s16le
// audio at 16 kHz.
const readChunkBytes = 4096

// tcpTransport speaks the raw protocol: s16le PCM in, one text line per
// record out.
type tcpTransport struct {
	conn net.Conn
	br   *bufio.Reader
	buf  []byte
}

var _ session.Transport = (*tcpTransport)(nil)

func newTCPTransport(conn net.Conn, br *bufio.Reader) *tcpTransport {
	return &tcpTransport{conn: conn, br: br, buf: make([]byte, readChunkBytes)}
}

// ReadAudio returns the next chunk of PCM bytes. The returned slice is only
// valid until the next call; the session decodes it before reading again.
func (t *tcpTransport) ReadAudio(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := t.br.Read(t.buf)
	if n > 0 {
		return t.buf[:n], nil
	}
	return nil, err
}

func (t *tcpTransport) WriteRecord(_ context.Context, rec session.Record) error {
	_, err := fmt.Fprintf(t.conn, "%d %d %s\n", toMillis(rec.Start), toMillis(rec.End), rec.Text)
	return err
}

func (t *tcpTransport) WriteError(_ context.Context, kind string) error {
	_, err := fmt.Fprintf(t.conn, "# error %s\n", kind)
	return err
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

func toMillis(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
