package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		id, err := UserID()
		require.NoError(t, err)
		assert.True(t, IsValidUserID(id), "generated id %q should validate", id)

		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("u_abcDEF0123"))
	assert.False(t, IsValidUserID("abcDEF0123"), "missing prefix")
	assert.False(t, IsValidUserID("u_abc"), "too short")
	assert.False(t, IsValidUserID("u_abcDEF01234"), "too long")
	assert.False(t, IsValidUserID("u_abc-EF0123"), "non base62")
}

func TestSessionAndMessageIDs(t *testing.T) {
	sid, err := SessionID()
	require.NoError(t, err)
	_, err = uuid.Parse(sid)
	assert.NoError(t, err)

	_, err = uuid.Parse(MessageID())
	assert.NoError(t, err)
}

func TestUserNickname(t *testing.T) {
	nick, err := UserNickname()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(nick, "Guest_"))
	assert.Len(t, nick, len("Guest_")+6)
}
