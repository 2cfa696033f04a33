package delegation

import "strings"

// route is the task_type -> assigned_to table of spec §4.4. Lookup is by
// exact task_type first, falling back to a substring match against the
// keyword groups the spec's table lists together (e.g. "writing" and
// "documentation" both route to writer) so a caller doesn't have to know
// the table's exact synonym grouping.
var route = map[string]string{
	"research":      "researcher",
	"writing":       "writer",
	"documentation": "writer",
	"development":   "developer",
	"coding":        "developer",
	"analysis":      "analyst",
	"security":      "analyst",
	"testing":       "analyst",
	"operations":    "ops",
	"monitoring":    "ops",
	"health_check":  "ops",
	"orchestration": "main",
	"synthesis":     "main",
}

// RouteTaskType maps a task_type to its assigned agent. Unknown types fall
// back to "main" (spec §4.4: "Unknown types fall back to main").
func RouteTaskType(taskType string) string {
	if assigned, ok := route[taskType]; ok {
		return assigned
	}
	lower := strings.ToLower(taskType)
	for keyword, assigned := range route {
		if strings.Contains(lower, keyword) {
			return assigned
		}
	}
	return "main"
}
