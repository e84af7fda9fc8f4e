package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/soniclane/streamscribe/internal/session"
)

// pingInterval is how often the server pings an idle WebSocket client to
// keep intermediaries from dropping the connection.
const pingInterval = 30 * time.Second

// wsRecord is the JSON shape of one transcript record on the WebSocket
// protocol. Times are milliseconds.
type wsRecord struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// wsError is the JSON shape of a terminal error record.
type wsError struct {
	Error string `json:"error"`
}

// wsTransport speaks the WebSocket protocol: binary PCM frames in, JSON
// records out.
type wsTransport struct {
	c *websocket.Conn
}

var _ session.Transport = (*wsTransport)(nil)

func newWSTransport(c *websocket.Conn) *wsTransport {
	return &wsTransport{c: c}
}

// ReadAudio returns the payload of the next binary frame. Text frames are
// skipped. A normal or going-away close maps to io.EOF.
func (t *wsTransport) ReadAudio(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ == websocket.MessageBinary {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteRecord(ctx context.Context, rec session.Record) error {
	return wsjson.Write(ctx, t.c, wsRecord{
		Start: toMillis(rec.Start),
		End:   toMillis(rec.End),
		Text:  rec.Text,
	})
}

func (t *wsTransport) WriteError(ctx context.Context, kind string) error {
	return wsjson.Write(ctx, t.c, wsError{Error: kind})
}

func (t *wsTransport) Close() error {
	return t.c.Close(websocket.StatusNormalClosure, "")
}

// pingLoop keeps the connection alive until ctx is cancelled or a ping
// fails.
func (t *wsTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := t.c.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
