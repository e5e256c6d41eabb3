package util

import "strings"

// taskIDSeparator joins a project name and a target name into a task ID,
// matching spec.md §3's "<project>:<target>" convention.
const taskIDSeparator = ":"

// TaskID returns the canonical "<project>:<target>" identifier for a task.
func TaskID(project, target string) string {
	return project + taskIDSeparator + target
}

// ParseTaskID splits a task ID back into its project and target. Target
// names are opaque strings and may themselves contain ':', so splitting
// happens on the first separator only — project names are not expected to
// contain ':'.
func ParseTaskID(id string) (project, target string) {
	idx := strings.Index(id, taskIDSeparator)
	if idx < 0 {
		return "", id
	}
	return id[:idx], id[idx+1:]
}
