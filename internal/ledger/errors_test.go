package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Conflict(OpTryAccept, "issue-1", "offer %s is stale", "o-1")
	assert.Equal(t, "try_accept: CONFLICT: offer o-1 is stale (issue=issue-1)", err.Error())

	err = InvalidArgument(OpCreate, "", "issue id is required")
	assert.Equal(t, "create: INVALID_ARGUMENT: issue id is required", err.Error())
}

func TestError_HelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("accept offer: %w", NotFound(OpGet, "x"))

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestError_Expected(t *testing.T) {
	assert.True(t, Conflict(OpExpire, "i", "stale").Expected())
	assert.True(t, Exhausted(OpExpire, "i").Expected())
	assert.False(t, NotFound(OpGet, "i").Expected())
	assert.False(t, InvalidState(OpComplete, "i", "no").Expected())

	assert.True(t, IsExpected(fmt.Errorf("wrap: %w", Conflict(OpTryAccept, "i", "stale"))))
	assert.False(t, IsExpected(errors.New("disk on fire")))
}
