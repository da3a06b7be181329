// Package dirtree caches a lazily listed directory hierarchy as a flat
// arena keyed by path with a children index keyed by parent path.
package dirtree

import (
	"slices"
	"strings"
	"sync"
)

// Quotas are the limits set on a directory; 0 means unlimited.
type Quotas struct {
	MaxBytes int64 `json:"max_bytes"`
	MaxFiles int64 `json:"max_files"`
}

// Dir is one directory listing entry.
type Dir struct {
	Path      string   `json:"path"`
	Name      string   `json:"name"`
	Parent    string   `json:"parent"`
	Quotas    Quotas   `json:"quotas"`
	Snapshots []string `json:"snapshots,omitempty"`
}

// Tree is safe for concurrent use. Returned *Dir values stay owned by the
// tree and are updated in place by Update.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[string]*Dir
	children map[string][]string
	loading  map[string]int
	pending  int
}

func New() *Tree {
	return &Tree{
		nodes:    make(map[string]*Dir),
		children: make(map[string][]string),
		loading:  make(map[string]int),
	}
}

// Update merges the listing of parent. Cached children missing from dirs
// are removed with their subtrees, existing ones are updated in place and
// new ones are added. Every entry of dirs becomes a child of parent.
func (t *Tree) Update(parent string, dirs []Dir) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		keep[d.Path] = true
	}
	for _, path := range slices.Clone(t.children[parent]) {
		if !keep[path] {
			t.removeLocked(path)
		}
	}
	for _, d := range dirs {
		d.Parent = parent
		if cur, ok := t.nodes[d.Path]; ok {
			if cur.Parent != parent {
				t.unlinkLocked(cur.Parent, cur.Path)
				t.linkLocked(parent, d.Path)
			}
			*cur = d
			continue
		}
		dir := d
		t.nodes[d.Path] = &dir
		t.linkLocked(parent, d.Path)
	}
}

func (t *Tree) linkLocked(parent, path string) {
	kids := t.children[parent]
	i, found := slices.BinarySearch(kids, path)
	if !found {
		t.children[parent] = slices.Insert(kids, i, path)
	}
}

func (t *Tree) unlinkLocked(parent, path string) {
	kids := t.children[parent]
	if i, found := slices.BinarySearch(kids, path); found {
		t.children[parent] = slices.Delete(kids, i, i+1)
	}
	if len(t.children[parent]) == 0 {
		delete(t.children, parent)
	}
}

// removeLocked drops path and its subtree.
func (t *Tree) removeLocked(path string) {
	stack := []string{path}
	seen := make(map[string]bool)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		stack = append(stack, t.children[p]...)
		if d, ok := t.nodes[p]; ok {
			t.unlinkLocked(d.Parent, p)
			delete(t.nodes, p)
		}
		delete(t.children, p)
	}
}

// Find returns the cached directory at path.
func (t *Tree) Find(path string) (*Dir, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.nodes[path]
	return d, ok
}

// Len returns the number of cached directories.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Children returns the direct children of path sorted by path.
func (t *Tree) Children(path string) []*Dir {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Dir, 0, len(t.children[path]))
	for _, p := range t.children[path] {
		out = append(out, t.nodes[p])
	}
	return out
}

func (t *Tree) HasChildren(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.children[path]) > 0
}

// Subtree returns every cached directory below path, depth first.
func (t *Tree) Subtree(path string) []*Dir {
	var out []*Dir
	t.Walk(path, func(d *Dir) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Walk visits the subtree below path depth first in path order until fn
// returns false. Every node is visited at most once.
func (t *Tree) Walk(path string, fn func(*Dir) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]bool{path: true}
	stack := slices.Clone(t.children[path])
	slices.Reverse(stack)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		if !fn(t.nodes[p]) {
			return
		}
		kids := slices.Clone(t.children[p])
		slices.Reverse(kids)
		stack = append(stack, kids...)
	}
}

// Search returns the first directory below root matching pred, looking
// through every subtree.
func (t *Tree) Search(root string, pred func(*Dir) bool) (*Dir, bool) {
	var found *Dir
	t.Walk(root, func(d *Dir) bool {
		if pred(d) {
			found = d
			return false
		}
		return true
	})
	return found, found != nil
}

// Ancestors returns the parents of path from the nearest up. It stops at
// an uncached parent or a cycle.
func (t *Tree) Ancestors(path string) []*Dir {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorsLocked(path)
}

func (t *Tree) ancestorsLocked(path string) []*Dir {
	var out []*Dir
	seen := map[string]bool{path: true}
	d, ok := t.nodes[path]
	for ok {
		if seen[d.Parent] {
			break
		}
		seen[d.Parent] = true
		d, ok = t.nodes[d.Parent]
		if ok {
			out = append(out, d)
		}
	}
	return out
}

// QuotaOrigin returns the directory whose quota limits path: its own when
// set and not undercut by an ancestor, else the nearest stricter ancestor.
// The root directory never acts as origin.
func (t *Tree) QuotaOrigin(path string, quota func(Quotas) int64) (*Dir, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.nodes[path]
	if !ok {
		return nil, false
	}
	chain := []*Dir{d}
	for _, a := range t.ancestorsLocked(path) {
		if a.Path == "/" {
			break
		}
		chain = append(chain, a)
	}
	origin := chain[len(chain)-1]
	for i := len(chain) - 2; i >= 0; i-- {
		cur := quota(chain[i].Quotas)
		inherited := quota(origin.Quotas)
		if cur != 0 && (inherited == 0 || inherited >= cur) {
			origin = chain[i]
		}
	}
	return origin, true
}

// BeginLoad marks path as being listed. It returns false when a listing of
// path is already pending.
func (t *Tree) BeginLoad(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading[path] > 0 {
		return false
	}
	t.loading[path]++
	t.pending++
	return true
}

// EndLoad marks the listing of path as finished.
func (t *Tree) EndLoad(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loading[path] == 0 {
		return
	}
	t.loading[path]--
	if t.loading[path] == 0 {
		delete(t.loading, path)
	}
	t.pending--
}

// Loading reports whether any listing is pending.
func (t *Tree) Loading() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending > 0
}

// ParentOf derives the parent path of an absolute path.
func ParentOf(path string) string {
	if path == "/" || path == "" {
		return ""
	}
	i := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
