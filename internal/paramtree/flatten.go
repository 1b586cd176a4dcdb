package paramtree

import "strings"

// Flatten collapses a nested mapping into separator-joined keys. Values
// that are not mappings, lists included, are kept as they are.
func Flatten(tree map[string]any, separator string) map[string]any {
	out := make(map[string]any)
	flattenInto(out, tree, "", separator)
	return out
}

func flattenInto(out map[string]any, node map[string]any, prefix, separator string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + separator + key
		}
		if child, ok := value.(map[string]any); ok {
			flattenInto(out, child, full, separator)
			continue
		}
		out[full] = value
	}
}

func joinPath(path []string) string {
	return strings.Join(path, "/")
}
