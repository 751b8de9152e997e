package push

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/mapper"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/ports/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanForwarder struct {
	batches chan model.Batch
	err     error
}

func (f *chanForwarder) Deliver(_ context.Context, b model.Batch) error {
	f.batches <- b
	return f.err
}

type chanDeadLetters struct {
	mu     sync.Mutex
	events []messaging.DeadLetterEvent
	done   chan struct{}
}

func (d *chanDeadLetters) PublishDeadLetter(_ context.Context, e messaging.DeadLetterEvent) error {
	d.mu.Lock()
	d.events = append(d.events, e)
	d.mu.Unlock()
	close(d.done)
	return nil
}

func startListener(t *testing.T, fwd core.Forwarder, dlq messaging.DeadLetterPublisher) (*Listener, context.CancelFunc, chan error) {
	t.Helper()
	return startListenerIdle(t, fwd, dlq, 5*time.Second)
}

func startListenerIdle(t *testing.T, fwd core.Forwarder, dlq messaging.DeadLetterPublisher, idle time.Duration) (*Listener, context.CancelFunc, chan error) {
	t.Helper()
	schema, err := mapper.ParseFieldMapping("employee_code=deviceUserId,scan_time=recordTime,status=attendanceType,verify=verificationMethod,SN=serialNumber,ip=deviceId")
	require.NoError(t, err)
	m, err := mapper.New(schema, "2006-01-02 15:04:05")
	require.NoError(t, err)

	l := NewListener(Options{Addr: "127.0.0.1:0", IdleTimeout: idle, TimeLayout: "2006-01-02 15:04:05"}, ADMSDecoder{}, fwd, m, dlq)
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, served
}

func send(t *testing.T, conn net.Conn, chunk string) {
	t.Helper()
	_, err := io.WriteString(conn, chunk)
	require.NoError(t, err)

	ack := make([]byte, len(Ack))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, Ack, string(ack))
}

func TestListener_ForwardsAttLogAsOneBatch(t *testing.T) {
	fwd := &chanForwarder{batches: make(chan model.Batch, 1)}
	l, _, _ := startListener(t, fwd, nil)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, attLogChunk)

	select {
	case b := <-fwd.batches:
		assert.Equal(t, model.Batch{
			{"employee_code": "0601", "scan_time": "2024-01-15 09:30:00", "status": "1", "verify": "1", "SN": "12345678", "ip": "127.0.0.1"},
			{"employee_code": "120", "scan_time": "2024-01-15 09:31:00", "status": "0", "verify": "1", "SN": "12345678", "ip": "127.0.0.1"},
		}, b)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not forwarded")
	}
}

func TestListener_AcksMalformedAndHeartbeatWithoutForwarding(t *testing.T) {
	fwd := &chanForwarder{batches: make(chan model.Batch, 1)}
	l, _, _ := startListener(t, fwd, nil)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, "garbage\r\n")
	send(t, conn, "GET /iclock/getrequest?SN=12345678 HTTP/1.1\r\n\r\n")
	send(t, conn, "POST /iclock/cdata?SN=12345678&table=OPERLOG HTTP/1.1\r\n\r\nOPLOG 4\t0\t2024-01-15 09:30:00")

	assert.Empty(t, fwd.batches)
}

func TestListener_DeadLettersFailedDelivery(t *testing.T) {
	fwd := &chanForwarder{batches: make(chan model.Batch, 1), err: errors.New("delivery to HR endpoint failed: status 503")}
	dlq := &chanDeadLetters{done: make(chan struct{})}
	l, _, _ := startListener(t, fwd, dlq)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, attLogChunk)

	select {
	case <-dlq.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not dead-lettered")
	}
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	require.Len(t, dlq.events, 1)
	e := dlq.events[0]
	assert.Equal(t, messaging.SourcePush, e.Source)
	assert.Equal(t, "12345678", e.SerialNumber)
	assert.Equal(t, "127.0.0.1", e.Peer)
	assert.Len(t, e.Records, 2)
	assert.Contains(t, e.Reason, "503")
}

func TestListener_StopsOnCancel(t *testing.T) {
	fwd := &chanForwarder{batches: make(chan model.Batch, 1)}
	l, cancel, served := startListener(t, fwd, nil)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	send(t, conn, "GET /iclock/getrequest?SN=1 HTTP/1.1\r\n\r\n")

	cancel()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server side of the connection is closed")

	_, err = net.DialTimeout("tcp", l.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestListener_ShutdownWakesBusyConnections(t *testing.T) {
	fwd := &chanForwarder{batches: make(chan model.Batch, 1)}
	l, _, served := startListenerIdle(t, fwd, nil, time.Hour)

	const devices = 16
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < devices; i++ {
		conn, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)
		defer conn.Close()

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			ack := make([]byte, len(Ack))
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := io.WriteString(c, "GET /iclock/getrequest?SN=1 HTTP/1.1\r\n\r\n"); err != nil {
					return
				}
				_ = c.SetReadDeadline(time.Now().Add(time.Second))
				if _, err := io.ReadFull(c, ack); err != nil {
					return
				}
			}
		}(conn)
	}

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, l.Shutdown(ctx))

	close(stop)
	wg.Wait()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
