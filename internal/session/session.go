// Package session drives one client connection: it pumps raw PCM off the
// transport into the online engine, runs the engine on a cadence, and writes
// committed-transcript records back.
//
// Two goroutines per session: a reader that only moves bytes from the
// network into a bounded queue, and a processor that owns the engine. The
// queue bounds how far the reader can run ahead of recognition; once it is
// full the transport's own backpressure slows the client down. Recognition
// work never happens on the reader goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soniclane/streamscribe/internal/engine"
	"github.com/soniclane/streamscribe/internal/observe"
	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// Record is one committed-transcript increment delivered to the client.
// Times are absolute session seconds; encoders convert to milliseconds.
type Record struct {
	Start float64
	End   float64
	Text  string
}

// Error kinds delivered to clients in terminal error records.
const (
	ErrorKindUnavailable = "unavailable"
	ErrorKindInternal    = "internal"
)

// Transport is one protocol-negotiated client connection.
type Transport interface {
	// ReadAudio returns the next chunk of raw s16le PCM bytes. io.EOF means
	// the client finished sending.
	ReadAudio(ctx context.Context) ([]byte, error)

	// WriteRecord delivers one transcript record.
	WriteRecord(ctx context.Context, rec Record) error

	// WriteError delivers a terminal error record. The session closes right
	// after.
	WriteError(ctx context.Context, kind string) error

	// Close releases the connection.
	Close() error
}

// Translator optionally rewrites records before delivery, buffering them to
// translate at phrase granularity. Implementations must pass text through
// unchanged when translation fails.
type Translator interface {
	// Feed accepts one committed record and returns any records now ready.
	Feed(ctx context.Context, rec Record) ([]Record, error)

	// Flush returns all buffered records at end-of-stream.
	Flush(ctx context.Context) ([]Record, error)
}

const (
	// defaultMinChunkSeconds is the amount of new audio that triggers an
	// engine iteration.
	defaultMinChunkSeconds = 1.0

	// defaultMaxStaleSeconds forces an iteration when any audio has been
	// waiting this long, so a slow trickle still produces output.
	defaultMaxStaleSeconds = 3.0

	// queueChunkSamples is the largest chunk the reader puts on the queue;
	// larger network reads are split. 2048 samples is 128 ms at 16 kHz.
	queueChunkSamples = 2048

	// queueChunks bounds the audio queue. Together with queueChunkSamples
	// this is about two seconds of audio.
	queueChunks = 16
)

// Options configures a Session.
type Options struct {
	// Engine is the per-session online engine. Required.
	Engine *engine.Engine

	// Transport is the client connection. Required. The server owns the
	// connection lifetime; the session only calls Close to unblock its
	// reader after a processing failure.
	Transport Transport

	// Translator, if set, rewrites records before delivery.
	Translator Translator

	// Metrics receives session telemetry. Optional.
	Metrics *observe.Metrics

	// MinChunkSeconds overrides the new-audio iteration trigger.
	MinChunkSeconds float64

	// MaxStaleSeconds overrides the wall-clock iteration trigger.
	MaxStaleSeconds float64

	// Log is the session logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Session transcribes one client connection.
type Session struct {
	eng        *engine.Engine
	transport  Transport
	translator Translator
	met        *observe.Metrics
	log        *slog.Logger

	minChunk time.Duration
	maxStale time.Duration

	// lastEndEmitted monotonises record start times: a record never starts
	// before the previous one ended.
	lastEndEmitted float64
}

// New creates a Session.
func New(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, errors.New("session: Options.Engine is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session: Options.Transport is required")
	}
	if opts.MinChunkSeconds <= 0 {
		opts.MinChunkSeconds = defaultMinChunkSeconds
	}
	if opts.MaxStaleSeconds <= 0 {
		opts.MaxStaleSeconds = defaultMaxStaleSeconds
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Session{
		eng:        opts.Engine,
		transport:  opts.Transport,
		translator: opts.Translator,
		met:        opts.Metrics,
		log:        opts.Log,
		minChunk:   time.Duration(opts.MinChunkSeconds * float64(time.Second)),
		maxStale:   time.Duration(opts.MaxStaleSeconds * float64(time.Second)),
	}, nil
}

// Run transcribes the connection until the client stops sending, the context
// is cancelled, or a terminal failure occurs. A clean client disconnect
// returns nil after the final flush.
func (s *Session) Run(ctx context.Context) error {
	if s.met != nil {
		s.met.ActiveSessions.Add(ctx, 1)
		defer s.met.ActiveSessions.Add(ctx, -1)
	}

	chunks := make(chan []float32, queueChunks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(ctx, chunks) })
	g.Go(func() error {
		err := s.processLoop(ctx, chunks)
		if err != nil {
			// Unblock a reader stuck in a network read.
			s.transport.Close()
		}
		return err
	})
	return g.Wait()
}

// readLoop moves PCM bytes from the transport onto the queue. It does no
// recognition work, so the client is only ever slowed by a full queue.
func (s *Session) readLoop(ctx context.Context, chunks chan<- []float32) error {
	defer close(chunks)
	for {
		data, err := s.transport.ReadAudio(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			// A dropped connection is routine, not a server failure.
			s.log.Debug("client read ended", "err", err)
			return nil
		}
		if len(data) == 0 {
			continue
		}
		if s.met != nil {
			s.met.AudioBytes.Add(ctx, int64(len(data)))
		}

		samples := audio.DecodePCM(data)
		for len(samples) > 0 {
			n := min(len(samples), queueChunkSamples)
			select {
			case chunks <- samples[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
			samples = samples[n:]
		}
	}
}

// processLoop owns the engine: it drains the queue, iterates on the cadence,
// and emits committed records.
func (s *Session) processLoop(ctx context.Context, chunks <-chan []float32) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var pending time.Duration
	lastIter := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return s.finish(ctx)
			}
			pending += s.insert(chunk)
		case <-ticker.C:
		}

		// Drain whatever else is queued before deciding.
		for drained := false; !drained; {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return s.finish(ctx)
				}
				pending += s.insert(chunk)
			default:
				drained = true
			}
		}

		due := pending >= s.minChunk ||
			(pending > 0 && time.Since(lastIter) >= s.maxStale)
		if !due {
			continue
		}

		words, err := s.eng.ProcessIter(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		if err := s.emit(ctx, words); err != nil {
			return err
		}
		pending = 0
		lastIter = time.Now()
	}
}

func (s *Session) insert(chunk []float32) time.Duration {
	if err := s.eng.InsertAudio(chunk); err != nil {
		// Only fails after Finish, which the processor alone can trigger.
		s.log.Error("insert audio", "err", err)
		return 0
	}
	return time.Duration(audio.Seconds(chunk) * float64(time.Second))
}

// finish runs the end-of-stream flush and delivers everything left.
func (s *Session) finish(ctx context.Context) error {
	words, err := s.eng.Finish(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	if err := s.emit(ctx, words); err != nil {
		return err
	}
	if s.translator != nil {
		recs, err := s.translator.Flush(ctx)
		if err != nil {
			s.log.Warn("translator flush failed", "err", err)
		}
		for _, rec := range recs {
			if err := s.write(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail reports a terminal failure to the client, then returns it.
func (s *Session) fail(ctx context.Context, err error) error {
	kind := ErrorKindInternal
	if errors.Is(err, recognizer.ErrUnavailable) {
		kind = ErrorKindUnavailable
	}
	s.log.Error("session failed", "kind", kind, "err", err)
	if werr := s.transport.WriteError(ctx, kind); werr != nil {
		s.log.Debug("error record not delivered", "err", werr)
	}
	return fmt.Errorf("session: %w", err)
}

// emit turns newly committed words into one record and delivers it. Record
// start times are clamped to never precede the previous record's end, so
// client-side timelines stay monotonic even when a trim skews word timing.
func (s *Session) emit(ctx context.Context, words []recognizer.Word) error {
	if len(words) == 0 {
		return nil
	}

	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil
	}

	rec := Record{
		Start: max(words[0].Start, s.lastEndEmitted),
		End:   words[len(words)-1].End,
		Text:  text,
	}
	if rec.End < rec.Start {
		rec.End = rec.Start
	}
	s.lastEndEmitted = rec.End

	if s.translator != nil {
		recs, err := s.translator.Feed(ctx, rec)
		if err != nil {
			s.log.Warn("translator failed, passing text through", "err", err)
			recs = []Record{rec}
		}
		for _, r := range recs {
			if err := s.write(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}
	return s.write(ctx, rec)
}

func (s *Session) write(ctx context.Context, rec Record) error {
	if err := s.transport.WriteRecord(ctx, rec); err != nil {
		return fmt.Errorf("session: write record: %w", err)
	}
	return nil
}
