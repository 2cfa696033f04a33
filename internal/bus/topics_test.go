package bus

import "testing"

func TestTopicConstantsNonEmpty(t *testing.T) {
	topics := []string{
		TopicFailoverTriggered,
		TopicFailoverResolved,
		TopicAgentHealthChange,
		TopicCurationDemoted,
		TopicCurationPruned,
		TopicCurationExcess,
		TopicTicketCreated,
		TopicTaskStateChanged,
		TopicTaskCompleted,
		TopicTaskFailed,
		TopicDelegationStarted,
		TopicDelegationCompleted,
		TopicDelegationFailed,
		TopicCycleStarted,
		TopicCycleCompleted,
	}
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic == "" {
			t.Fatal("topic constant is empty")
		}
		if seen[topic] {
			t.Fatalf("duplicate topic constant value %q", topic)
		}
		seen[topic] = true
	}
}

func TestFailoverEventFields(t *testing.T) {
	ev := FailoverEvent{
		ID:          "fo-1",
		TriggeredBy: "ops",
		Reason:      "main unhealthy 3 consecutive checks",
		Status:      "active",
	}
	if ev.Status != "active" {
		t.Errorf("Status = %q, want active", ev.Status)
	}
}

func TestCurationEventRoundTrip(t *testing.T) {
	b := New()
	sub := b.Subscribe("curation.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicCurationPruned, CurationEvent{NodeID: "m-1", Tier: "HOT", Action: "prune", Score: 0.4})

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(CurationEvent)
		if !ok {
			t.Fatalf("payload type = %T, want CurationEvent", ev.Payload)
		}
		if payload.NodeID != "m-1" {
			t.Errorf("NodeID = %q, want m-1", payload.NodeID)
		}
	default:
		t.Fatal("expected event on subscription channel")
	}
}
