package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapGRPCError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want ErrorKind
	}{
		{codes.Unauthenticated, KindAuthRequired},
		{codes.PermissionDenied, KindAuthRequired},
		{codes.ResourceExhausted, KindQuotaExhausted},
		{codes.DeadlineExceeded, KindTimeout},
		{codes.Canceled, KindTimeout},
		{codes.Unavailable, KindNetwork},
		{codes.Internal, KindInternal},
		{codes.Unknown, KindInternal},
		{codes.InvalidArgument, KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := mapGRPCError(status.Error(tt.code, "boom"))
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestMapGRPCErrorNonStatus(t *testing.T) {
	// Errors that never passed through gRPC map to the transport kind.
	err := mapGRPCError(errors.New("socket closed"))
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestStructFieldHelpers(t *testing.T) {
	m := map[string]any{
		"text":        "hello",
		"exit_status": float64(3),
		"degraded":    true,
		"issues":      []any{"a", 7, "b"},
	}

	assert.Equal(t, "hello", stringField(m, "text"))
	assert.Equal(t, "", stringField(m, "missing"))
	assert.Equal(t, 3, intField(m, "exit_status"))
	assert.Equal(t, 0, intField(m, "missing"))
	assert.True(t, boolField(m, "degraded"))
	assert.False(t, boolField(m, "missing"))
	// Non-string entries are skipped, not errors.
	assert.Equal(t, []string{"a", "b"}, stringSliceField(m, "issues"))
}
