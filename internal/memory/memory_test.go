// ABOUTME: Tests for the memory graph service
// ABOUTME: Covers node writes, parent linking, the virtual root and versioning

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-toolhost/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(Config{Store: store.NewMockStore(), Now: clock.now})
}

func TestWriteNode_CreatesWithGeneratedID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.WriteNode(ctx, "u", WriteInput{Title: "  Groceries  ", Content: "milk"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Node.ID)
	assert.Equal(t, "Groceries", res.Node.Title)
	assert.Equal(t, 1, res.Node.Version)
	assert.NotEmpty(t, res.Node.ContentHash)

	got, err := svc.ReadNode(ctx, "u", res.Node.ID)
	require.NoError(t, err)
	assert.Equal(t, "milk", got.Content)
}

func TestWriteNode_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "__root__", Title: "x"})
	assert.ErrorIs(t, err, ErrReservedID)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "__private", Title: "x"})
	assert.ErrorIs(t, err, ErrReservedID)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "   "})
	assert.ErrorIs(t, err, ErrTitleRequired)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "A", Parents: []string{"a"}})
	assert.ErrorIs(t, err, ErrSelfParent)
}

func TestWriteNode_LinksParents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "projects", Title: "Projects"})
	require.NoError(t, err)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "garden", Title: "Garden", Parents: []string{"projects", "missing"}})
	require.NoError(t, err)

	// A second write must not duplicate the ref
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "garden", Title: "Garden", Parents: []string{"projects"}})
	require.NoError(t, err)

	parent, err := svc.ReadNode(ctx, "u", "projects")
	require.NoError(t, err)
	assert.Equal(t, []string{"garden"}, parent.Refs)

	_, err = svc.ReadNode(ctx, "u", "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestReadNode_RootListsOrphans(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, err := svc.ReadNode(ctx, "u", RootID)
	require.NoError(t, err)
	assert.Empty(t, root.Refs)
	assert.Equal(t, "Memory is empty.", root.Content)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "people", Title: "People", Description: "who is who"})
	require.NoError(t, err)
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "alice", Title: "Alice", Parents: []string{"people"}})
	require.NoError(t, err)
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "recipes", Title: "Recipes"})
	require.NoError(t, err)

	root, err = svc.ReadNode(ctx, "u", "")
	require.NoError(t, err)
	assert.Equal(t, RootID, root.ID)
	assert.Equal(t, []string{"people", "recipes"}, root.Refs)
	assert.Contains(t, root.Content, "- People (people): who is who")

	// Another user's graph is separate
	other, err := svc.ReadNode(ctx, "v", RootID)
	require.NoError(t, err)
	assert.Empty(t, other.Refs)
}

func TestWriteNode_RefsKeptWhenNil(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "A", Refs: []string{"b", " b ", "a", ""}})
	require.NoError(t, err)

	res, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "A2"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, []string{"b"}, res.Node.Refs)

	res, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "A2", Refs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, res.Node.Refs)
}

func TestWriteNode_VersionsOnChangeDescription(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "n", Title: "N", Content: "one"})
	require.NoError(t, err)

	// No change description: overwrite in place
	res, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "n", Title: "N", Content: "two"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Node.Version)
	assert.Equal(t, first.Node.CreatedAt, res.Node.CreatedAt)

	// Unchanged content with a description: nothing archived
	res, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "n", Title: "N", Content: "two", ChangeDescription: "noop"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Node.Version)

	res, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "n", Title: "N", Content: "three", ChangeDescription: "rewrite"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Node.Version)

	versions, err := svc.Versions(ctx, "u", "n")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "two", versions[0].Content)
	assert.Equal(t, "rewrite", versions[0].ChangeDescription)

	_, err = svc.Versions(ctx, "u", "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestAppend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "u", "log", "x", "")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "log", Title: "Log"})
	require.NoError(t, err)

	n, err := svc.Append(ctx, "u", "log", "first", "")
	require.NoError(t, err)
	assert.Equal(t, "first", n.Content)

	n, err = svc.Append(ctx, "u", "log", "second\n", "")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", n.Content)

	n, err = svc.Append(ctx, "u", "log", "third", "add third")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\nthird", n.Content)
	assert.Equal(t, 2, n.Version)

	_, err = svc.Append(ctx, "u", RootID, "x", "")
	assert.ErrorIs(t, err, ErrReservedID)
}

func TestTree_DropsDanglingRefs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.WriteNode(ctx, "u", WriteInput{NodeID: "a", Title: "A", Refs: []string{"ghost", "b"}})
	require.NoError(t, err)
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "b", Title: "B"})
	require.NoError(t, err)

	tree, err := svc.Tree(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tree.Children["a"])
	assert.Equal(t, []string{"a"}, tree.Children[RootID])
	assert.Len(t, tree.Nodes, 2)
}

func TestService_WithSQLiteStore(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	svc := New(Config{Store: s, Now: clock.now})
	ctx := context.Background()

	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "p", Title: "P"})
	require.NoError(t, err)
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "c", Title: "C", Content: "v1", Parents: []string{"p"}})
	require.NoError(t, err)
	_, err = svc.WriteNode(ctx, "u", WriteInput{NodeID: "c", Title: "C", Content: "v2", ChangeDescription: "edit"})
	require.NoError(t, err)

	p, err := svc.ReadNode(ctx, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, p.Refs)

	versions, err := svc.Versions(ctx, "u", "c")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "v1", versions[0].Content)
}
