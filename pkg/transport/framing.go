package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
)

const (
	headerContentLength = "Content-Length"
	maxHeaderLine       = 4096
)

// FrameReader reads Content-Length framed messages.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewFrameReader returns a reader that rejects frames larger than maxSize.
// A maxSize of zero means DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: bufio.NewReaderSize(r, maxHeaderLine), maxSize: maxSize}
}

// ReadFrame reads one header block and its body. It returns io.EOF when the
// stream ends cleanly between frames and io.ErrUnexpectedEOF when it ends
// inside one. The returned slice is owned by the caller.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	length := -1
	first := true

	for {
		line, err := fr.r.ReadSlice('\n')
		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				return nil, mcperrors.ParseError("header line too long")
			case errors.Is(err, io.EOF) && first && len(line) == 0:
				return nil, io.EOF
			case errors.Is(err, io.EOF):
				return nil, io.ErrUnexpectedEOF
			default:
				return nil, err
			}
		}
		first = false

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			break
		}

		name, value, ok := strings.Cut(string(line), ":")
		if !ok {
			return nil, mcperrors.ParseError(fmt.Sprintf("malformed header line %q", line))
		}
		if !strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, mcperrors.ParseError(fmt.Sprintf("invalid Content-Length %q", strings.TrimSpace(value)))
		}
		length = n
	}

	if length < 0 {
		return nil, mcperrors.ParseError("missing Content-Length header")
	}
	if length > fr.maxSize {
		return nil, mcperrors.FrameTooLarge(length, fr.maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// FrameWriter writes Content-Length framed messages. Writes are serialized
// and flushed immediately.
type FrameWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteFrame writes "Content-Length: N\r\n\r\n" followed by body.
func (fw *FrameWriter) WriteFrame(body []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fmt.Fprintf(fw.w, "%s: %d\r\n\r\n", headerContentLength, len(body)); err != nil {
		return err
	}
	if _, err := fw.w.Write(body); err != nil {
		return err
	}
	return fw.w.Flush()
}
