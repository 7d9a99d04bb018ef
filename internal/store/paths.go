package store

import "strings"

// sanitizeProjectPath strips everything up to and including the first
// occurrence of "/<project>/" from an absolute file path, so observations
// never leak the host's directory layout back to the client.
func sanitizeProjectPath(path, project string) string {
	marker := "/" + project + "/"
	if idx := strings.Index(path, marker); idx >= 0 {
		return path[idx+len(marker):]
	}
	return path
}

func sanitizeProjectPaths(paths []string, project string) []string {
	if len(paths) == 0 {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = sanitizeProjectPath(p, project)
	}
	return out
}
