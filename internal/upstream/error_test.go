package upstream_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/care-team/care-bridge/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestTransport_Classification(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := upstream.Transport("svc", tc.err)

			assert.Equal(t, upstream.KindTransport, err.Kind)
			assert.Equal(t, tc.timeout, err.Timeout)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	var err error = fmt.Errorf("outer: %w", upstream.Status("line", 401, "denied"))

	assert.ErrorIs(t, err, upstream.ErrUpstream)
	assert.NotErrorIs(t, err, upstream.ErrTransport)

	ue, ok := upstream.As(err)
	require.True(t, ok)
	assert.Equal(t, 401, ue.StatusCode)
	assert.Equal(t, "line: upstream error (status 401): response: denied", ue.Error())
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, "svc: configuration error: missing key", upstream.Configuration("svc", "missing key").Error())
	assert.Equal(t, "svc: malformed-response error: bad", upstream.Malformed("svc", errors.New("bad")).Error())
	assert.Equal(t, "svc: transport timeout: context deadline exceeded", upstream.Transport("svc", context.DeadlineExceeded).Error())
}

func TestAs_Unclassified(t *testing.T) {
	_, ok := upstream.As(errors.New("plain"))
	assert.False(t, ok)
}

func TestBody_Truncates(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}

	assert.Len(t, upstream.Body(long), 515)
	assert.Equal(t, "short", upstream.Body([]byte("short")))
}
