package paramtree

import (
	"sort"

	"github.com/KevinKickass/OdinBridge/internal/types"
)

const statusSegment = "status"

// Leaf is a parameter found in a metadata tree together with its full path.
type Leaf struct {
	Path     []string
	Metadata map[string]any
}

// IsMetadataObject reports whether node is an annotated odin parameter.
func IsMetadataObject(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	_, hasWriteable := m["writeable"]
	_, hasType := m["type"]
	return hasWriteable && hasType
}

// Walk flattens a nested odin tree into its parameter leaves, depth first
// with mapping keys visited in sorted order.
func Walk(tree map[string]any, prefix []string) []Leaf {
	var leaves []Leaf
	for _, key := range sortedKeys(tree) {
		leaves = walkNode(tree[key], appendPath(prefix, key), leaves)
	}
	return leaves
}

func walkNode(node any, path []string, acc []Leaf) []Leaf {
	if IsMetadataObject(node) {
		return append(acc, Leaf{Path: path, Metadata: node.(map[string]any)})
	}

	if items, ok := node.([]any); ok && allMappings(items) {
		// Repeated sub-trees share the path; callers separate them.
		for _, item := range items {
			acc = walkMapping(item.(map[string]any), path, acc)
		}
		return acc
	}

	if m, ok := node.(map[string]any); ok {
		return walkMapping(m, path, acc)
	}

	return append(acc, Leaf{
		Path: path,
		Metadata: map[string]any{
			"value":     node,
			"type":      types.TypeNameOf(node),
			"writeable": !underStatus(path),
		},
	})
}

func walkMapping(m map[string]any, path []string, acc []Leaf) []Leaf {
	for _, key := range sortedKeys(m) {
		acc = walkNode(m[key], appendPath(path, key), acc)
	}
	return acc
}

func allMappings(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func underStatus(path []string) bool {
	if len(path) < 2 {
		return false
	}
	for _, segment := range path[:len(path)-1] {
		if segment == statusSegment {
			return true
		}
	}
	return false
}

func appendPath(prefix []string, key string) []string {
	path := make([]string, len(prefix), len(prefix)+1)
	copy(path, prefix)
	return append(path, key)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
