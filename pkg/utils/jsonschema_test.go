package utils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"count": {"type": "integer", "minimum": 1}
	},
	"required": ["message"]
}`

func TestCompileSchema(t *testing.T) {
	s, err := CompileSchema(json.RawMessage(messageSchema))
	require.NoError(t, err)
	assert.Contains(t, string(s.Raw()), `"required"`)

	_, err = CompileSchema(nil)
	assert.ErrorIs(t, err, ErrNilSchema)

	_, err = CompileSchema(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNilSchema)

	_, err = CompileSchema(json.RawMessage(`"string"`))
	assert.Error(t, err)

	_, err = CompileSchema(json.RawMessage(`{"type":`))
	assert.Error(t, err)
}

func TestSchema_Validate(t *testing.T) {
	s, err := CompileSchema(json.RawMessage(messageSchema))
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"message":"hi"}`, false},
		{"valid with optional", `{"message":"hi","count":2}`, false},
		{"missing required", `{}`, true},
		{"empty data treated as object", ``, true},
		{"wrong type", `{"message":5}`, true},
		{"below minimum", `{"message":"hi","count":0}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(ctx, json.RawMessage(tt.data))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected *ValidationError, got %T", err)
			assert.NotEmpty(t, ve.Issues)
		})
	}
}

func TestSchema_ValidateMentionsProperty(t *testing.T) {
	s, err := CompileSchema(json.RawMessage(messageSchema))
	require.NoError(t, err)

	err = s.Validate(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message")
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestSchema_ValidateMalformedJSON(t *testing.T) {
	s, err := CompileSchema(json.RawMessage(messageSchema))
	require.NoError(t, err)

	err = s.Validate(context.Background(), json.RawMessage(`{"message":`))
	require.Error(t, err)
	var ve *ValidationError
	assert.False(t, errors.As(err, &ve))
}

func TestSchema_ConcurrentValidate(t *testing.T) {
	s, err := CompileSchema(json.RawMessage(messageSchema))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, s.Validate(context.Background(), json.RawMessage(`{"message":"ok"}`)))
			} else {
				assert.Error(t, s.Validate(context.Background(), json.RawMessage(`{}`)))
			}
		}(i)
	}
	wg.Wait()
}

func TestValidateAgainstSchema(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, ValidateAgainstSchema(ctx, json.RawMessage(`{"message":"x"}`), json.RawMessage(messageSchema)))
	assert.Error(t, ValidateAgainstSchema(ctx, json.RawMessage(`{}`), json.RawMessage(messageSchema)))
	assert.ErrorIs(t, ValidateAgainstSchema(ctx, json.RawMessage(`{}`), nil), ErrNilSchema)
}
