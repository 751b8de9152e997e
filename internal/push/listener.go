package push

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/mapper"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/metrics"
	"attendance.bridge/internal/ports/device"
	"attendance.bridge/internal/ports/messaging"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ack is written for every chunk, whatever it contained. Devices treat a
// missing ack as the server being down and keep retransmitting.
const Ack = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\nOK\r\n"

const (
	readBufferSize = 64 * 1024
	writeTimeout   = 5 * time.Second
)

type Options struct {
	Addr        string
	IdleTimeout time.Duration
	TimeLayout  string
	Location    *time.Location
}

// Listener accepts device connections and forwards pushed ATTLOG lines as one
// batch per chunk. It keeps no dedup state: device retransmissions may be
// delivered twice.
type Listener struct {
	opts        Options
	decoder     device.FrameDecoder
	forwarder   core.Forwarder
	mapper      *mapper.Mapper
	deadLetters messaging.DeadLetterPublisher

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewListener wires a push listener. deadLetters may be nil, in which case
// undeliverable batches are only logged.
func NewListener(opts Options, decoder device.FrameDecoder, fwd core.Forwarder, m *mapper.Mapper, deadLetters messaging.DeadLetterPublisher) *Listener {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Listener{
		opts:        opts,
		decoder:     decoder,
		forwarder:   fwd,
		mapper:      m,
		deadLetters: deadLetters,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket. Serve calls it when needed.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.opts.Addr)
	if err != nil {
		return err
	}
	l.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("Push listener accepting device connections")

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(shutdownCtx)
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isShutdown() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Err(err).Msg("Temporary accept error")
				continue
			}
			return err
		}

		if !l.track(conn) {
			_ = conn.Close()
			return nil
		}
		l.wg.Add(1)
		go l.handleConn(ctx, conn)
	}
}

// Shutdown closes the listening socket, wakes idle connections, and waits for
// handlers to finish the chunk they are on.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for c := range l.conns {
		_ = c.SetReadDeadline(time.Now())
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("Push listener stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) isShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdown
}

// armDeadline extends the idle deadline for the next read. It holds mu so a
// concurrent Shutdown cannot have its immediate deadline overwritten.
func (l *Listener) armDeadline(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return false
	}
	if l.opts.IdleTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout))
	}
	return true
}

func (l *Listener) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return false
	}
	l.conns[c] = struct{}{}
	metrics.PushConnections.Inc()
	return true
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
	metrics.PushConnections.Dec()
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(conn)
	defer conn.Close()

	peer := peerHost(conn.RemoteAddr())
	logger := log.With().Str("peer", peer).Logger()
	logger.Debug().Msg("Device connected")

	buf := make([]byte, readBufferSize)
	for {
		if !l.armDeadline(conn) {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			l.handleChunk(logger.WithContext(ctx), conn, peer, buf[:n])
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug().Msg("Device disconnected")
			case errors.As(err, &ne) && ne.Timeout():
				logger.Debug().Msg("Closing idle device connection")
			default:
				logger.Warn().Err(err).Msg("Device connection error")
			}
			return
		}
	}
}

func (l *Listener) handleChunk(ctx context.Context, conn net.Conn, peer string, chunk []byte) {
	frame, decodeErr := l.decoder.DecodeFrame(chunk)

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(conn, Ack); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to acknowledge device push")
	}

	if decodeErr != nil {
		metrics.PushRequests.WithLabelValues("malformed").Inc()
		log.Ctx(ctx).Warn().Err(decodeErr).Int("bytes", len(chunk)).Msg("Could not parse push request, acknowledged and dropped")
		return
	}

	serial := frame.Query["SN"]
	ctx = log.Ctx(ctx).With().Str("sn", serial).Logger().WithContext(ctx)

	switch {
	case frame.Query["table"] == TableAttLog && frame.HasBody:
		metrics.PushRequests.WithLabelValues("attlog").Inc()
		l.ingest(ctx, frame, peer, serial)
	case strings.HasPrefix(frame.Path, PathCData):
		metrics.PushRequests.WithLabelValues("heartbeat").Inc()
		log.Ctx(ctx).Debug().Str("table", frame.Query["table"]).Msg("Device check-in")
	case strings.HasPrefix(frame.Path, PathGetRequest):
		metrics.PushRequests.WithLabelValues("heartbeat").Inc()
		log.Ctx(ctx).Debug().Msg("Device polling for commands")
	default:
		metrics.PushRequests.WithLabelValues("other").Inc()
		log.Ctx(ctx).Debug().Str("path", frame.Path).Msg("Ignoring push request without attendance data")
	}
}

func (l *Listener) ingest(ctx context.Context, frame device.Frame, peer, serial string) {
	ctx, span := otel.Tracer("push-listener").Start(ctx, "push_attlog",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("app.serialNumber", serial),
			attribute.String("net.peer.ip", peer),
		),
	)
	defer span.End()

	records, errs := ToRecords(DecodeAttLog(frame.Body), peer, serial, l.opts.TimeLayout, l.opts.Location)
	for _, err := range errs {
		log.Ctx(ctx).Warn().Err(err).Msg("Forwarding attendance line with unreadable timestamp as pushed")
	}
	if len(records) == 0 {
		return
	}
	metrics.PushRecords.Add(float64(len(records)))
	span.SetAttributes(attribute.Int("push.records", len(records)))

	batch := model.Batch(l.mapper.MapAll(records))
	if err := l.forwarder.Deliver(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		log.Ctx(ctx).Error().Err(err).Int("records", len(records)).Msg("Failed to forward pushed attendance")
		l.deadLetter(ctx, serial, peer, batch, err)
		return
	}

	metrics.SyncRecordsDelivered.WithLabelValues("push").Add(float64(len(records)))
	log.Ctx(ctx).Info().Int("records", len(records)).Msg("Forwarded pushed attendance")
}

func (l *Listener) deadLetter(ctx context.Context, serial, peer string, batch model.Batch, cause error) {
	if l.deadLetters == nil {
		return
	}
	event := messaging.DeadLetterEvent{
		Source:       messaging.SourcePush,
		SerialNumber: serial,
		Peer:         peer,
		Records:      batch,
		Reason:       cause.Error(),
		FailedAt:     time.Now().UTC(),
	}
	if err := l.deadLetters.PublishDeadLetter(context.WithoutCancel(ctx), event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to park undelivered push batch on the dead-letter queue")
		return
	}
	log.Ctx(ctx).Info().Int("records", len(batch)).Msg("Parked undelivered push batch on the dead-letter queue")
}

func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
