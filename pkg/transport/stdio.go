package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
)

const stdioName = "stdio"

// StdioTransport carries Content-Length framed messages over a byte stream,
// by default the process's stdin and stdout. Only one connection is live at
// a time.
//
// The stream is read by a single goroutine owned by the transport. Frames
// are handed to whichever connection is live, so a frame read after one
// connection ends is delivered to the next rather than dropped.
type StdioTransport struct {
	reader         io.Reader
	frameReader    *FrameReader
	writer         *FrameWriter
	rawWriter      io.Writer
	maxConcurrency int
	closeStreams   bool
	logger         logging.Logger
	observer       SessionObserver

	mu        sync.Mutex
	conn      *stdioConnection
	closed    bool
	closeOnce sync.Once

	readOnce sync.Once
	frames   chan []byte
	readDone chan struct{}
	readErr  error // set before readDone is closed
	stop     chan struct{}
}

// NewStdioTransport creates a stdio transport from config.
func NewStdioTransport(config Config) *StdioTransport {
	reader := config.StdioReader
	writer := config.StdioWriter
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &StdioTransport{
		reader:         reader,
		frameReader:    NewFrameReader(reader, config.MaxFrameSize),
		writer:         NewFrameWriter(writer),
		rawWriter:      writer,
		maxConcurrency: config.MaxConcurrency,
		closeStreams:   config.CloseStreams,
		logger:         logger.WithFields(logging.String("transport", stdioName)),
		observer:       config.Observer,
		frames:         make(chan []byte),
		readDone:       make(chan struct{}),
		stop:           make(chan struct{}),
	}
}

// Connect starts the read loop. Frames are handed to h until the stream
// ends, a framing error occurs, ctx is cancelled or the connection is closed.
func (t *StdioTransport) Connect(ctx context.Context, h Handler) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.conn != nil {
		select {
		case <-t.conn.done:
		default:
			return nil, ErrAlreadyConnected
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	conn := &stdioConnection{
		transport: t,
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	t.conn = conn

	if t.observer != nil {
		t.observer.SessionOpened(stdioName)
	}
	t.logger.Debug("stdio connection opened")

	t.readOnce.Do(func() { go t.readFrames() })
	go conn.readLoop(h)
	go func() {
		select {
		case <-cctx.Done():
			_ = conn.Close()
		case <-conn.done:
		}
	}()

	return conn, nil
}

// Close ends the live connection and refuses new ones. It never closes
// os.Stdin or os.Stdout.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.mu.Unlock()

		close(t.stop)
		if conn != nil {
			_ = conn.Close()
		}
		if !t.closeStreams {
			if d, ok := t.reader.(interface{ SetReadDeadline(time.Time) error }); ok {
				// Unblocks a pending read on pollable descriptors without closing them.
				_ = d.SetReadDeadline(time.Now())
			}
		}
	})
	return nil
}

// readFrames reads the stream until it fails. Each frame waits on the
// unbuffered frames channel until a connection takes it.
func (t *StdioTransport) readFrames() {
	for {
		data, err := t.frameReader.ReadFrame()
		if err != nil {
			t.readErr = err
			close(t.readDone)
			return
		}
		select {
		case t.frames <- data:
		case <-t.stop:
			return
		}
	}
}

// stdioConnection is the single logical connection of a StdioTransport.
type stdioConnection struct {
	transport *StdioTransport
	ctx       context.Context
	cancel    context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *stdioConnection) ID() string { return stdioName }

func (c *stdioConnection) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil while the connection is
// live and after a clean end of input.
func (c *stdioConnection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *stdioConnection) Send(ctx context.Context, msg interface{}) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := c.transport.writer.WriteFrame(data); err != nil {
		c.transport.recordError("write")
		return mcperrors.TransportError(stdioName, "write_frame", err)
	}
	return nil
}

func (c *stdioConnection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)

		t := c.transport
		if t.closeStreams {
			if closer, ok := t.reader.(io.Closer); ok {
				_ = closer.Close()
			}
			if closer, ok := t.rawWriter.(io.Closer); ok {
				_ = closer.Close()
			}
		}

		if t.observer != nil {
			t.observer.SessionClosed(stdioName)
		}
		t.logger.Debug("stdio connection closed", logging.ErrorField(c.Err()))
	})
	return nil
}

func (c *stdioConnection) readLoop(h Handler) {
	t := c.transport
	pump := newMessagePump(c.ctx, c, h, t.maxConcurrency, t.logger)

	var readErr error
read:
	for {
		// A closed connection must not take a frame the next one could use.
		select {
		case <-c.done:
			pump.wait()
			return
		default:
		}
		select {
		case data := <-t.frames:
			pump.deliver(data)
		case <-t.readDone:
			readErr = t.readErr
			break read
		case <-c.done:
			pump.wait()
			return
		}
	}

	// Let in-flight requests answer before the connection goes away.
	pump.wait()

	if !errors.Is(readErr, io.EOF) {
		select {
		case <-c.done:
		default:
			t.logger.Error("stdio read failed", logging.ErrorField(readErr))
			t.recordError(frameErrorKind(readErr))
			c.errMu.Lock()
			c.err = readErr
			c.errMu.Unlock()
		}
	}
	_ = c.Close()
}

func (t *StdioTransport) recordError(kind string) {
	if t.observer != nil {
		t.observer.RecordTransportError(stdioName, kind)
	}
}

func frameErrorKind(err error) string {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "unexpected_eof"
	case mcperrors.IsCode(err, mcperrors.CodeParseError):
		return "parse"
	case mcperrors.IsCategory(err, mcperrors.CategoryTransport):
		return "frame_too_large"
	default:
		return "io"
	}
}
