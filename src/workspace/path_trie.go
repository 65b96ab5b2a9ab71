package workspace

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// pathTrieNode is one path segment.
type pathTrieNode struct {
	children map[string]*pathTrieNode
	value    string
	terminal bool
}

// PathTrie answers "which registered root contains this path" by longest
// prefix on whole path segments.
type PathTrie struct {
	root *pathTrieNode
	mu   sync.RWMutex
}

// NewPathTrie creates an empty trie.
func NewPathTrie() *PathTrie {
	return &PathTrie{root: newPathTrieNode()}
}

func newPathTrieNode() *pathTrieNode {
	return &pathTrieNode{children: make(map[string]*pathTrieNode)}
}

// Insert registers root with an associated value, replacing any previous one.
func (pt *PathTrie) Insert(root, value string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	current := pt.root
	for _, segment := range splitPath(root) {
		next, ok := current.children[segment]
		if !ok {
			next = newPathTrieNode()
			current.children[segment] = next
		}
		current = next
	}
	current.terminal = true
	current.value = value
}

// FindLongestMatch returns the value of the deepest registered root that
// contains path.
func (pt *PathTrie) FindLongestMatch(path string) (string, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	var (
		match string
		found bool
	)
	current := pt.root
	if current.terminal {
		match, found = current.value, true
	}

	for _, segment := range splitPath(path) {
		next, ok := current.children[segment]
		if !ok {
			break
		}
		current = next
		if current.terminal {
			match, found = current.value, true
		}
	}
	return match, found
}

// Remove unregisters root and prunes empty branches.
func (pt *PathTrie) Remove(root string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return removeSegments(pt.root, splitPath(root))
}

func removeSegments(node *pathTrieNode, segments []string) bool {
	if len(segments) == 0 {
		if !node.terminal {
			return false
		}
		node.terminal = false
		node.value = ""
		return true
	}

	child, ok := node.children[segments[0]]
	if !ok {
		return false
	}
	removed := removeSegments(child, segments[1:])
	if removed && !child.terminal && len(child.children) == 0 {
		delete(node.children, segments[0])
	}
	return removed
}

func splitPath(path string) []string {
	normalized := filepath.ToSlash(filepath.Clean(path))
	if runtime.GOOS == "windows" {
		normalized = strings.ToLower(normalized)
	}

	var segments []string
	for _, s := range strings.Split(normalized, "/") {
		if s != "" && s != "." {
			segments = append(segments, s)
		}
	}
	return segments
}
