package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
)

func TestWriteFrame_Format(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	body := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	require.NoError(t, w.WriteFrame(body))

	expected := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	assert.Equal(t, expected, buf.String())
}

func TestFrame_RoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"jsonrpc":"2.0","method":"ping","id":"a"}`),
		[]byte(`{}`),
		[]byte(`{"text":"multi\r\nline with ünïcode"}`),
		bytes.Repeat([]byte("x"), 70000),
		{},
	}

	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	for _, b := range bodies {
		require.NoError(t, w.WriteFrame(b))
	}

	r := NewFrameReader(&buf, 0)
	for i, want := range bodies {
		got, err := r.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, want, got, "frame %d", i)
	}

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_Headers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr func(t *testing.T, err error)
	}{
		{
			name:  "extra headers ignored",
			input: "Content-Type: application/json\r\nContent-Length: 2\r\n\r\n{}",
			want:  "{}",
		},
		{
			name:  "header name case-insensitive",
			input: "content-length: 2\r\n\r\n{}",
			want:  "{}",
		},
		{
			name:  "bare newlines accepted",
			input: "Content-Length: 2\n\n{}",
			want:  "{}",
		},
		{
			name:  "missing length",
			input: "Content-Type: application/json\r\n\r\n{}",
			wantErr: func(t *testing.T, err error) {
				assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError), "got %v", err)
			},
		},
		{
			name:  "invalid length",
			input: "Content-Length: abc\r\n\r\n{}",
			wantErr: func(t *testing.T, err error) {
				assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError), "got %v", err)
			},
		},
		{
			name:  "negative length",
			input: "Content-Length: -1\r\n\r\n",
			wantErr: func(t *testing.T, err error) {
				assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError), "got %v", err)
			},
		},
		{
			name:  "malformed header line",
			input: "garbage\r\n\r\n",
			wantErr: func(t *testing.T, err error) {
				assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError), "got %v", err)
			},
		},
		{
			name:  "short body",
			input: "Content-Length: 10\r\n\r\n{}",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:  "eof inside headers",
			input: "Content-Length: 2\r\n",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameReader(strings.NewReader(tt.input), 0)
			got, err := r.ReadFrame()
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	r := NewFrameReader(strings.NewReader("Content-Length: 11\r\n\r\nhello world"), 10)
	_, err := r.ReadFrame()
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInternalError))
	assert.Contains(t, err.Error(), "frame too large")
}

func TestReadFrame_HeaderLineTooLong(t *testing.T) {
	input := "X-Padding: " + strings.Repeat("a", 2*maxHeaderLine) + "\r\nContent-Length: 2\r\n\r\n{}"
	r := NewFrameReader(strings.NewReader(input), 0)
	_, err := r.ReadFrame()
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError))
}
