package util

import (
	"testing"
	"time"

	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *golog.Logger {
	t.Helper()
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestExtractBearerToken(t *testing.T) {
	token, err := ExtractBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestExtractBearerToken_Errors(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"empty header", "", ErrMissingAuthHeader},
		{"no bearer prefix", "Basic abc", ErrInvalidAuthHeader},
		{"lowercase bearer", "bearer abc", ErrInvalidAuthHeader},
		{"prefix only", "Bearer ", ErrInvalidAuthHeader},
		{"bare token", "abc.def.ghi", ErrInvalidAuthHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractBearerToken(tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestContainsWeakPattern(t *testing.T) {
	patterns := []string{"secret", "password", "changeme"}

	weak, pattern := ContainsWeakPattern("MY-SECRET-VALUE", patterns)
	assert.True(t, weak)
	assert.Equal(t, "secret", pattern)

	weak, pattern = ContainsWeakPattern("fP9xK2mQ7vL4nR8t", patterns)
	assert.False(t, weak)
	assert.Empty(t, pattern)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	logger := newTestLogger(t)

	done := make(chan struct{})
	assert.NotPanics(t, func() {
		SafeGo(logger, "test", func() {
			defer close(done)
			panic("boom")
		})
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("goroutine did not run")
		}
	})
}

func TestSafeGo_RunsFunction(t *testing.T) {
	logger := newTestLogger(t)

	done := make(chan int, 1)
	SafeGo(logger, "test", func() { done <- 42 })

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	data, err := MarshalJSON(map[string]string{"a": "b"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, UnmarshalJSON(data, &out))
	assert.Equal(t, "b", out["a"])

	_, err = MarshalJSON(make(chan int))
	assert.Error(t, err)

	assert.Error(t, UnmarshalJSON([]byte("{bad"), &out))
}

func TestNewTimeoutContext(t *testing.T) {
	ctx, cancel := NewTimeoutContext(time.Minute)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestNewDefaultTimeoutContext(t *testing.T) {
	ctx, cancel := NewDefaultTimeoutContext()
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), deadline, time.Second)
}
