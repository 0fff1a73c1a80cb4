package optimizations

import "testing"

func TestRoundTrackerLockstepAdvance(t *testing.T) {
	var tracker RoundTracker

	steps := []struct {
		ev   Event
		want bool
	}{
		{Event{Type: EventWriterDone, Round: 1}, true},
		{Event{Type: EventCriticDone, Round: 1}, true},
		{Event{Type: EventWriterDone, Round: 2}, true},
		{Event{Type: EventCriticDone, Round: 2}, true},
	}
	for i, step := range steps {
		if got := tracker.Observe(step.ev); got != step.want {
			t.Fatalf("step %d: expected %v, got %v", i, step.want, got)
		}
	}

	if tracker.Current() != 2 {
		t.Fatalf("expected current round 2, got %d", tracker.Current())
	}
	if tracker.CompletedRounds() != 2 {
		t.Fatalf("expected 2 completed rounds, got %d", tracker.CompletedRounds())
	}
}

func TestRoundTrackerRejectsReplayedWriter(t *testing.T) {
	var tracker RoundTracker

	if !tracker.Observe(Event{Type: EventWriterDone, Round: 1}) {
		t.Fatalf("expected first writer round to be accepted")
	}
	if tracker.Observe(Event{Type: EventWriterDone, Round: 1}) {
		t.Fatalf("expected replayed writer round to be rejected")
	}
	if tracker.Current() != 1 {
		t.Fatalf("expected current round 1, got %d", tracker.Current())
	}
}

func TestRoundTrackerRejectsCriticWithoutWriter(t *testing.T) {
	var tracker RoundTracker

	if tracker.Observe(Event{Type: EventCriticDone, Round: 1}) {
		t.Fatalf("expected critic before any writer to be rejected")
	}

	if !tracker.Observe(Event{Type: EventWriterDone, Round: 1}) {
		t.Fatalf("expected writer round 1 to be accepted")
	}
	if tracker.Observe(Event{Type: EventCriticDone, Round: 2}) {
		t.Fatalf("expected critic for a round with no writer to be rejected")
	}
	if tracker.CompletedRounds() != 0 {
		t.Fatalf("expected no completed rounds, got %d", tracker.CompletedRounds())
	}
}

func TestRoundTrackerRejectsRepeatedCritic(t *testing.T) {
	var tracker RoundTracker

	tracker.Observe(Event{Type: EventWriterDone, Round: 1})
	if !tracker.Observe(Event{Type: EventCriticDone, Round: 1}) {
		t.Fatalf("expected first critic to be accepted")
	}
	if tracker.Observe(Event{Type: EventCriticDone, Round: 1}) {
		t.Fatalf("expected repeated critic to be rejected")
	}
	if tracker.CompletedRounds() != 1 {
		t.Fatalf("expected 1 completed round, got %d", tracker.CompletedRounds())
	}
}

func TestRoundTrackerAllowsSkippedWriterRounds(t *testing.T) {
	var tracker RoundTracker

	tracker.Observe(Event{Type: EventWriterDone, Round: 1})
	tracker.Observe(Event{Type: EventCriticDone, Round: 1})
	if !tracker.Observe(Event{Type: EventWriterDone, Round: 3}) {
		t.Fatalf("expected a forward jump to be accepted")
	}
	if tracker.Observe(Event{Type: EventWriterDone, Round: 2}) {
		t.Fatalf("expected a backward round to be rejected")
	}
	if tracker.Current() != 3 {
		t.Fatalf("expected current round 3, got %d", tracker.Current())
	}
}

func TestRoundTrackerIgnoresOtherEventKinds(t *testing.T) {
	var tracker RoundTracker

	if !tracker.Observe(Event{Type: EventProgress, Round: 9}) {
		t.Fatalf("expected non-round events to pass through")
	}
	if tracker.Current() != 0 {
		t.Fatalf("expected progress events to leave rounds untouched, got %d", tracker.Current())
	}
}
