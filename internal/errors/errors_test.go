package errors

import (
	"fmt"
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDefaults(t *testing.T) {
	err := New(KindContended, "migrator", "lock held by another worker")
	assert.Equal(t, KindContended, err.Kind)
	assert.Equal(t, "migrator", err.Component)
	assert.False(t, err.Retryable)
	assert.False(t, err.Timestamp.IsZero())
}

func TestObjectStoreFailedIsRetryableByDefault(t *testing.T) {
	err := New(KindObjectStoreFailed, "s3", "put failed")
	assert.True(t, err.Retryable)
}

func TestWithRetryableOverridesDefault(t *testing.T) {
	err := New(KindObjectStoreFailed, "s3", "no such bucket").WithRetryable(false)
	assert.False(t, err.Retryable)
}

func TestErrorStringIncludesComponentAndSyscall(t *testing.T) {
	wrapped := fmt.Errorf("no such file")
	err := New(KindFileOpFailed, "xattrfs", "fstat failed").
		WithOperation("is_regular").
		WithSyscall("fstat", wrapped)

	msg := err.Error()
	assert.Contains(t, msg, "xattrfs:is_regular")
	assert.Contains(t, msg, "fstat")
	assert.Contains(t, msg, "no such file")
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("underlying")
	err := New(KindObjectStoreFailed, "s3", "upload failed").WithCause(cause)
	require.ErrorIs(t, err, cause)
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := New(KindWouldBlock, "queueio", "full")
	b := New(KindWouldBlock, "queueio", "different message entirely")
	c := New(KindInvalid, "queueio", "full")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestHelperIsChecksKind(t *testing.T) {
	wrapped := fmt.Errorf("wrap: %w", New(KindNoOp, "migrator", "already remote"))
	assert.True(t, Is(wrapped, KindNoOp))
	assert.False(t, Is(wrapped, KindContended))
	assert.False(t, Is(stderrors.New("plain"), KindNoOp))
}
