package liveness

import (
	"context"
	"fmt"

	"github.com/basket/go-claw/internal/graphstore"
	"github.com/basket/go-claw/internal/registry"
)

// Handler adapts Check to the registry.Handler signature, for
// registration as the "health_check" heartbeat task (spec §4.5: "ops
// handler, every 5 minutes").
func (m *Monitor) Handler() registry.Handler {
	return func(ctx context.Context, _ *graphstore.Store) (registry.HandlerResult, error) {
		statuses, err := m.Check(ctx)
		if err != nil {
			return registry.HandlerResult{}, err
		}
		var dead, stuck int
		for _, s := range statuses {
			switch s {
			case StatusDead:
				dead++
			case StatusStuck:
				stuck++
			}
		}
		return registry.HandlerResult{
			Status:  graphstore.TaskResultSuccess,
			Summary: fmt.Sprintf("checked %d agents: %d dead, %d stuck", len(statuses), dead, stuck),
		}, nil
	}
}
