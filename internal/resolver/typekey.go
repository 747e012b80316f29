package resolver

import "strings"

// TypeKeyFromPath derives a stable worker-type key from a filesystem path.
// Nothing in the dispatch path calls it: PluginLoader caches by the raw
// path, and worker pools are keyed by Worker.Type().
func TypeKeyFromPath(path string) string {
	joined := strings.ReplaceAll(path, "/", ".")
	joined = strings.ReplaceAll(joined, "-", "_")

	var cleaned strings.Builder
	for _, r := range joined {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '.' || r == '_' {
			cleaned.WriteRune(r)
		}
	}

	collapsed := cleaned.String()
	for strings.Contains(collapsed, "..") {
		collapsed = strings.ReplaceAll(collapsed, "..", ".")
	}
	collapsed = strings.TrimPrefix(collapsed, ".")

	return strings.ToLower(collapsed)
}
