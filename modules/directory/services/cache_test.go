package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orgstack/directory/modules/directory/domain/department"
	"github.com/orgstack/directory/modules/directory/domain/treepath"
)

func cacheNode(t *testing.T, segment string) *department.Department {
	t.Helper()
	name, err := department.NewName("Department")
	require.NoError(t, err)
	identifier, err := department.NewIdentifier(segment)
	require.NoError(t, err)
	path, err := treepath.NewRoot(segment)
	require.NoError(t, err)
	return &department.Department{
		ID:         uuid.New(),
		Name:       name,
		Identifier: identifier,
		Path:       path,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestSubtreeCache_GetAfterSet(t *testing.T) {
	cache := newSubtreeCache()
	root := cacheNode(t, "engineering")
	child := cacheNode(t, "backend")

	_, ok := cache.Get(root.ID)
	require.False(t, ok)

	cache.Set(root.ID, []*department.Department{root, child})
	nodes, ok := cache.Get(root.ID)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	require.Equal(t, 1, cache.Len())
}

func TestSubtreeCache_InvalidateByContainedID(t *testing.T) {
	cache := newSubtreeCache()
	root := cacheNode(t, "engineering")
	child := cacheNode(t, "backend")
	other := cacheNode(t, "operations")

	cache.Set(root.ID, []*department.Department{root, child})
	cache.Set(other.ID, []*department.Department{other})
	require.Equal(t, 2, cache.Len())

	// A change to a non-root member evicts every subtree containing it,
	// leaving unrelated entries alone.
	cache.Invalidate("test", child.ID)
	_, ok := cache.Get(root.ID)
	require.False(t, ok)
	_, ok = cache.Get(other.ID)
	require.True(t, ok)
	require.Equal(t, 1, cache.Len())
}

func TestSubtreeCache_NilRootIgnored(t *testing.T) {
	cache := newSubtreeCache()
	cache.Set(uuid.Nil, []*department.Department{cacheNode(t, "engineering")})
	require.Zero(t, cache.Len())
}
