// Package channel owns the TCP connections to the driver agent: one control
// channel and a fixed-capacity table of data channels.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRetryInterval is the pause between connect attempts refused by the peer.
const DefaultRetryInterval = 100 * time.Millisecond

const captureChunk = 1024

// CaptureState reports the lifecycle of a channel's capture task.
type CaptureState int32

const (
	CaptureIdle CaptureState = iota
	CaptureRunning
	CaptureEnded
	CaptureEndedWithError
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRunning:
		return "running"
	case CaptureEnded:
		return "ended"
	case CaptureEndedWithError:
		return "ended_with_error"
	default:
		return fmt.Sprintf("capture_state(%d)", int32(s))
	}
}

// Channel is one TCP connection with a role and a stable global index.
// A channel is not safe for concurrent use except that its capture task runs
// alongside the owner until StopCapture joins it.
type Channel struct {
	index   int
	role    protocol.Role
	created bool
	conn    net.Conn

	// Retry paces refused connect attempts.
	Retry Backoff
	// DialTimeout bounds a single connect attempt when positive.
	DialTimeout time.Duration

	capture     *captureTask
	capturePath string
	closeFaults int

	log zerolog.Logger
}

type captureTask struct {
	path  string
	done  chan struct{}
	state atomic.Int32
	mu    sync.Mutex
	err   error
}

func New(index int) *Channel {
	c := &Channel{index: index, role: protocol.RoleNone, Retry: DefaultBackoff()}
	c.refreshLogger()
	return c
}

func (c *Channel) refreshLogger() {
	c.log = log.With().
		Str("component", "channel").
		Str("channel", c.String()).
		Logger()
}

func (c *Channel) String() string {
	return fmt.Sprintf("CHANNEL %s#%d", c.role, c.index)
}

func (c *Channel) Index() int          { return c.index }
func (c *Channel) Role() protocol.Role { return c.role }
func (c *Channel) Created() bool       { return c.created }
func (c *Channel) Connected() bool     { return c.conn != nil }
func (c *Channel) CapturePath() string { return c.capturePath }

func (c *Channel) SetRole(r protocol.Role) {
	c.role = r
	c.refreshLogger()
}

// Create marks the channel as created with role. It fails if the channel was
// already created and not closed since.
func (c *Channel) Create(role protocol.Role) error {
	if c.created {
		return fmt.Errorf("%w: %s already created", protocol.ErrUsage, c)
	}
	c.created = true
	c.SetRole(role)
	c.log.Debug().Str("file", c.captureFileName()).Msg("created")
	return nil
}

// Connect dials ip:port. A refused attempt is retried after the Retry delay
// until maxAttempts is spent; any other dial error is returned at once.
func (c *Channel) Connect(ctx context.Context, ip string, port int, maxAttempts int) error {
	if !c.created {
		return fmt.Errorf("%w: %s connect before create", protocol.ErrUsage, c)
	}
	if c.conn != nil {
		return fmt.Errorf("%w: %s already connected", protocol.ErrUsage, c)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.DialTimeout}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.conn = conn
			c.log.Debug().Str("addr", addr).Int("attempt", attempt).Msg("connected")
			return nil
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("%w: %s dial %s: %v", protocol.ErrConnection, c, addr, err)
		}
		c.log.Trace().Str("addr", addr).Int("attempt", attempt).Msg("connection refused")
		if attempt == maxAttempts {
			break
		}
		if err := c.sleepRetry(ctx, attempt); err != nil {
			return fmt.Errorf("%w: %s dial %s: %v", protocol.ErrConnection, c, addr, err)
		}
	}
	return fmt.Errorf("%w: %s cannot connect to %s after %d attempts", protocol.ErrConnection, c, addr, maxAttempts)
}

func (c *Channel) sleepRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(NextDelay(c.Retry, attempt, nil))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Channel) checkConn() error {
	if c.conn == nil {
		return fmt.Errorf("%w: %s is not connected", protocol.ErrUsage, c)
	}
	return nil
}

// SendBytes writes all of b or returns an error.
func (c *Channel) SendBytes(b []byte) error {
	if err := c.checkConn(); err != nil {
		return err
	}
	c.log.Trace().Int("len", len(b)).Msg("send")
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return fmt.Errorf("%w: %s send: %v", protocol.ErrConnection, c, err)
		}
		b = b[n:]
	}
	return nil
}

func (c *Channel) SendRecord(r *wire.Record) error {
	if err := c.checkConn(); err != nil {
		return err
	}
	if e := c.log.Trace(); e.Enabled() {
		e.Str("record", r.Layout().Name()).Msg("send record\n" + r.Dump())
	}
	return c.SendBytes(wire.Encode(r))
}

// ReceiveBytes reads until n bytes arrived or the peer closed. On early close
// the short buffer is returned with a nil error; callers check the length.
func (c *Channel) ReceiveBytes(n int) ([]byte, error) {
	if err := c.checkConn(); err != nil {
		return nil, err
	}
	if c.Capturing() {
		return nil, fmt.Errorf("%w: %s receive while capture is running", protocol.ErrUsage, c)
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(c.conn, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		buf = buf[:got]
	default:
		return nil, fmt.Errorf("%w: %s receive: %v", protocol.ErrConnection, c, err)
	}
	c.log.Trace().Int("want", n).Int("got", len(buf)).Msg("receive")
	return buf, nil
}

// ReceiveRecord reads exactly l.Size() bytes and decodes them.
func (c *Channel) ReceiveRecord(l *wire.Layout) (*wire.Record, error) {
	b, err := c.ReceiveBytes(l.Size())
	if err != nil {
		return nil, err
	}
	if len(b) != l.Size() {
		return nil, fmt.Errorf("%w: %s peer closed after %d of %d bytes of %s", protocol.ErrConnection, c, len(b), l.Size(), l.Name())
	}
	r, err := wire.Decode(l, b)
	if err != nil {
		return nil, err
	}
	if e := c.log.Trace(); e.Enabled() {
		e.Str("record", l.Name()).Msg("received record\n" + r.Dump())
	}
	return r, nil
}

func (c *Channel) captureFileName() string {
	return fmt.Sprintf("data_%s.%d.bin", c.role, c.index)
}

// StartCapture drains the socket into dir/data_<ROLE>.<index>.bin on a
// background task until the peer closes or a read fails.
func (c *Channel) StartCapture(dir string) error {
	if err := c.checkConn(); err != nil {
		return err
	}
	if c.capture != nil && !c.capture.finished() {
		return fmt.Errorf("%w: %s capture already started", protocol.ErrUsage, c)
	}
	path := filepath.Join(dir, c.captureFileName())
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s capture file: %w", c, err)
	}
	task := &captureTask{path: path, done: make(chan struct{})}
	task.state.Store(int32(CaptureRunning))
	c.capture = task
	c.capturePath = path
	c.log.Debug().Str("file", path).Msg("capture started")

	go task.run(c.conn, f, c.log)
	return nil
}

func (t *captureTask) run(conn net.Conn, f *os.File, logger zerolog.Logger) {
	defer close(t.done)
	buf := make([]byte, captureChunk)
	var written int64
	var failure error
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				failure = werr
				break
			}
			written += int64(n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				failure = err
			}
			break
		}
	}
	if err := f.Close(); err != nil && failure == nil {
		failure = err
	}
	t.mu.Lock()
	t.err = failure
	t.mu.Unlock()
	if failure != nil {
		t.state.Store(int32(CaptureEndedWithError))
		logger.Debug().Err(failure).Int64("bytes", written).Msg("capture ended with error")
		return
	}
	t.state.Store(int32(CaptureEnded))
	logger.Debug().Int64("bytes", written).Msg("capture ended")
}

func (t *captureTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Capturing reports whether a capture task is still draining the socket.
func (c *Channel) Capturing() bool {
	return c.capture != nil && CaptureState(c.capture.state.Load()) == CaptureRunning
}

// CaptureState reports the state of the current or most recent capture.
func (c *Channel) CaptureState() CaptureState {
	if c.capture == nil {
		return CaptureIdle
	}
	return CaptureState(c.capture.state.Load())
}

// CaptureErr returns the I/O error that ended the capture, if any.
func (c *Channel) CaptureErr() error {
	if c.capture == nil {
		return nil
	}
	c.capture.mu.Lock()
	defer c.capture.mu.Unlock()
	return c.capture.err
}

// StopCapture waits for the capture task to finish. It is a no-op when no
// capture is running. Capture I/O errors are kept for CaptureErr, never returned.
func (c *Channel) StopCapture() {
	if c.capture == nil {
		return
	}
	<-c.capture.done
	c.log.Trace().Str("state", c.CaptureState().String()).Msg("capture joined")
}

// ReadCaptureFile returns the bytes of the last completed capture.
func (c *Channel) ReadCaptureFile() ([]byte, error) {
	if c.capturePath == "" {
		return nil, fmt.Errorf("%w: %s has no capture", protocol.ErrUsage, c)
	}
	if c.capture != nil && !c.capture.finished() {
		return nil, fmt.Errorf("%w: %s capture still running", protocol.ErrUsage, c)
	}
	b, err := os.ReadFile(c.capturePath)
	if err != nil {
		return nil, fmt.Errorf("%s read capture: %w", c, err)
	}
	return b, nil
}

// Close closes the socket, joins a running capture and resets the channel to
// inert. A capture cut short this way ends in CaptureEndedWithError.
// The first failed close over the channel's life is tolerated; later ones are
// returned. The index, last capture path and capture outcome survive.
func (c *Channel) Close() error {
	c.log.Debug().Msg("closing")
	var err error
	if c.conn != nil {
		cerr := c.conn.Close()
		c.StopCapture()
		if cerr != nil {
			c.closeFaults++
			if c.closeFaults > 1 {
				err = fmt.Errorf("%w: %s close: %v", protocol.ErrConnection, c, cerr)
			} else {
				c.log.Debug().Err(cerr).Msg("close failed, tolerated once")
			}
		}
	}
	c.conn = nil
	c.created = false
	c.SetRole(protocol.RoleNone)
	return err
}
