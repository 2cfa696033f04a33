package delegation

import "testing"

func TestRouteTaskTypeMatchesPublishedTable(t *testing.T) {
	cases := []struct {
		taskType string
		want     string
	}{
		{"research", "researcher"},
		{"writing", "writer"},
		{"documentation", "writer"},
		{"development", "developer"},
		{"coding", "developer"},
		{"analysis", "analyst"},
		{"security", "analyst"},
		{"testing", "analyst"},
		{"operations", "ops"},
		{"monitoring", "ops"},
		{"health_check", "ops"},
		{"orchestration", "main"},
		{"synthesis", "main"},
	}
	for _, c := range cases {
		if got := RouteTaskType(c.taskType); got != c.want {
			t.Errorf("RouteTaskType(%q) = %q, want %q", c.taskType, got, c.want)
		}
	}
}

func TestRouteTaskTypeUnknownFallsBackToMain(t *testing.T) {
	if got := RouteTaskType("something-never-seen"); got != "main" {
		t.Fatalf("expected fallback to main, got %q", got)
	}
}
