package inmemstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chitterchatter/portal/core"
)

func TestStore(t *testing.T) {
	store := New()

	_, ok := store.Get(core.KeyAccessToken)
	assert.False(t, ok)

	store.Set(core.KeyAccessToken, "tok")
	store.Set(core.KeyUserRole, "student")
	val, ok := store.Get(core.KeyAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "tok", val)

	store.Remove(core.SessionKeys...)
	assert.Equal(t, 0, store.Len())

	// removing absent keys is fine
	store.Remove(core.SessionKeys...)
	assert.Equal(t, 0, store.Len())
}
