package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/harun/insightx/pkg/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want credential.FailureKind
	}{
		{429, credential.FailureRateLimited},
		{401, credential.FailureAuth},
		{402, credential.FailureAuth},
		{403, credential.FailureAuth},
		{408, credential.FailureTransient},
		{500, credential.FailureTransient},
		{503, credential.FailureTransient},
		{400, credential.FailureUnknown},
		{404, credential.FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, kindForStatus(tt.code))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Classify(nil))
		assert.Equal(t, credential.FailureKind(""), KindOf(nil))
	})

	t.Run("deadline is transient", func(t *testing.T) {
		err := Classify(fmt.Errorf("call: %w", context.DeadlineExceeded))
		var upstream *UpstreamError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, credential.FailureTransient, upstream.Kind)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("network error is transient", func(t *testing.T) {
		err := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		assert.Equal(t, credential.FailureTransient, KindOf(err))
	})

	t.Run("message fallbacks", func(t *testing.T) {
		assert.Equal(t, credential.FailureRateLimited, KindOf(errors.New("Rate limit exceeded")))
		assert.Equal(t, credential.FailureAuth, KindOf(errors.New("invalid API key provided")))
		assert.Equal(t, credential.FailureTransient, KindOf(errors.New("request timed out")))
		assert.Equal(t, credential.FailureUnknown, KindOf(errors.New("something odd")))
	})

	t.Run("already classified passes through", func(t *testing.T) {
		orig := &UpstreamError{Kind: credential.FailureAuth, StatusCode: 401, Err: errors.New("denied")}
		assert.Same(t, orig, Classify(orig))
		assert.Contains(t, orig.Error(), "status 401")
	})
}
