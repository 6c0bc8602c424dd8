package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	epierrors "github.com/agentic-memory/epimem/errors"
)

func TestMemoryErrorUnwrapAndIs(t *testing.T) {
	cause := stderrors.New("disk full")
	err := epierrors.New("storage.StoreEpisode", epierrors.KindStorage, "ep-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage.StoreEpisode")
	assert.Contains(t, err.Error(), "ep-1")
	assert.True(t, epierrors.IsRecoverable(err))
}

func TestSentinelWhenNoCause(t *testing.T) {
	err := epierrors.New("episode.Get", epierrors.KindNotFound, "ep-2", nil)
	assert.True(t, epierrors.IsNotFound(err))
	assert.False(t, epierrors.IsRecoverable(err))
}

func TestKindOf(t *testing.T) {
	err := epierrors.Newf(epierrors.KindValidationFailed, "bad dimension %d", 7)
	kind, ok := epierrors.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, epierrors.KindValidationFailed, kind)
}

func TestRecoverableKinds(t *testing.T) {
	assert.True(t, epierrors.IsRecoverableKind(epierrors.KindCircuitBreakerOpen))
	assert.False(t, epierrors.IsRecoverableKind(epierrors.KindSecurity))
}
