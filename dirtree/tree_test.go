package dirtree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dir(path string, maxBytes int64) Dir {
	name := path[strings.LastIndex(path, "/")+1:]
	return Dir{Path: path, Name: name, Parent: ParentOf(path), Quotas: Quotas{MaxBytes: maxBytes}}
}

func paths(dirs []*Dir) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.Path
	}
	return out
}

func sample() *Tree {
	t := New()
	t.Update("", []Dir{{Path: "/", Name: "/"}})
	t.Update("/", []Dir{dir("/b", 0), dir("/a", 100)})
	t.Update("/a", []Dir{dir("/a/y", 0), dir("/a/x", 50)})
	t.Update("/b", []Dir{dir("/b/z", 0)})
	t.Update("/a/x", []Dir{dir("/a/x/deep", 200)})
	return t
}

func TestUpdate(t *testing.T) {
	tree := sample()
	assert.Equal(t, 7, tree.Len())
	assert.Equal(t, []string{"/a", "/b"}, paths(tree.Children("/")))
	assert.True(t, tree.HasChildren("/a"))
	assert.False(t, tree.HasChildren("/a/y"))

	a, ok := tree.Find("/a")
	require.True(t, ok)
	tree.Update("/", []Dir{dir("/a", 10), dir("/b", 0)})
	same, _ := tree.Find("/a")
	assert.Same(t, a, same, "existing nodes are updated in place")
	assert.Equal(t, int64(10), a.Quotas.MaxBytes)
	assert.Equal(t, []string{"/a/x", "/a/y"}, paths(tree.Children("/a")), "children survive their parent's update")

	tree.Update("/", []Dir{dir("/a", 10)})
	_, ok = tree.Find("/b")
	assert.False(t, ok)
	_, ok = tree.Find("/b/z")
	assert.False(t, ok, "subtree of a vanished directory is dropped")
	assert.Equal(t, 5, tree.Len())
	assert.Empty(t, tree.Children("/b"))

	tree.Update("/a", nil)
	assert.False(t, tree.HasChildren("/a"), "an empty listing clears the children")
	assert.Equal(t, 2, tree.Len())
}

func TestUpdateMovesParent(t *testing.T) {
	tree := sample()
	tree.Update("/b", []Dir{{Path: "/a/x", Name: "x"}})

	assert.Equal(t, []string{"/a/x"}, paths(tree.Children("/b")))
	assert.Equal(t, []string{"/a/y"}, paths(tree.Children("/a")))
	_, ok := tree.Find("/a/x/deep")
	assert.True(t, ok)
}

func TestWalkAndSearch(t *testing.T) {
	tree := sample()
	assert.Equal(t, []string{"/a", "/a/x", "/a/x/deep", "/a/y", "/b", "/b/z"}, paths(tree.Subtree("/")))
	assert.Equal(t, []string{"/a/x", "/a/x/deep", "/a/y"}, paths(tree.Subtree("/a")))

	var visited []string
	tree.Walk("/", func(d *Dir) bool {
		visited = append(visited, d.Path)
		return len(visited) < 2
	})
	assert.Equal(t, []string{"/a", "/a/x"}, visited)

	d, ok := tree.Search("/", func(d *Dir) bool { return d.Name == "z" })
	require.True(t, ok)
	assert.Equal(t, "/b/z", d.Path)

	_, ok = tree.Search("/a", func(d *Dir) bool { return d.Name == "z" })
	assert.False(t, ok)
}

func TestAncestors(t *testing.T) {
	tree := sample()
	assert.Equal(t, []string{"/a/x", "/a", "/"}, paths(tree.Ancestors("/a/x/deep")))
	assert.Empty(t, tree.Ancestors("/"))
	assert.Empty(t, tree.Ancestors("/missing"))

	tree.Update("/d", []Dir{{Path: "/c"}})
	tree.Update("/c", []Dir{{Path: "/d"}})
	assert.Equal(t, []string{"/d"}, paths(tree.Ancestors("/c")))
	assert.Equal(t, []string{"/c"}, paths(tree.Subtree("/d")))
}

func TestQuotaOrigin(t *testing.T) {
	tree := sample()
	bytes := func(q Quotas) int64 { return q.MaxBytes }

	for path, want := range map[string]string{
		"/a":        "/a",
		"/a/x":      "/a/x",
		"/a/y":      "/a",
		"/a/x/deep": "/a/x",
		"/b/z":      "/b",
	} {
		d, ok := tree.QuotaOrigin(path, bytes)
		require.True(t, ok, path)
		assert.Equal(t, want, d.Path, path)
	}

	_, ok := tree.QuotaOrigin("/missing", bytes)
	assert.False(t, ok)
}

func TestLoading(t *testing.T) {
	tree := New()
	assert.False(t, tree.Loading())

	require.True(t, tree.BeginLoad("/a"))
	assert.False(t, tree.BeginLoad("/a"), "a pending listing is not requested twice")
	require.True(t, tree.BeginLoad("/b"))
	assert.True(t, tree.Loading())

	tree.EndLoad("/a")
	assert.True(t, tree.Loading())
	tree.EndLoad("/b")
	tree.EndLoad("/b")
	assert.False(t, tree.Loading())
	assert.True(t, tree.BeginLoad("/a"))
}

func TestParentOf(t *testing.T) {
	assert.Equal(t, "/a", ParentOf("/a/b"))
	assert.Equal(t, "/a", ParentOf("/a/b/"))
	assert.Equal(t, "/", ParentOf("/a"))
	assert.Equal(t, "", ParentOf("/"))
	assert.Equal(t, "", ParentOf(""))
}
