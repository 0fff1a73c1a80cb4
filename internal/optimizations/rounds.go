package optimizations

const (
	// DefaultMinRounds is the number of writer/critic rounds that always run
	// before the gate may pass a draft.
	DefaultMinRounds = 1
	// DefaultMaxRounds caps writer/critic rounds; reaching it forces a
	// decision, pass or blocked.
	DefaultMaxRounds = 3
)

// RoundLimits bounds the writer/critic loop. Min rounds always run; Max is
// the retry budget shared by gate failures.
type RoundLimits struct {
	Min int
	Max int
}

// normalized fills zero values with defaults and keeps Max >= Min >= 1.
func (l RoundLimits) normalized() RoundLimits {
	if l.Min < 1 {
		l.Min = DefaultMinRounds
	}
	if l.Max < 1 {
		l.Max = DefaultMaxRounds
	}
	if l.Max < l.Min {
		l.Max = l.Min
	}
	return l
}

// RoundTracker enforces monotonic round numbering on the client side.
// Writer and critic completions must arrive in lockstep: a writer_done opens
// round N only when N is past every round seen so far, and a critic_done
// closes round N only when the writer for N already arrived. Stale or
// repeated round numbers are rejected so replays after a resume cannot
// double-count.
type RoundTracker struct {
	highestWriter int
	highestCritic int
}

// Observe reports whether a writer_done or critic_done event advances the
// loop. Other event kinds are always accepted and tracked nowhere.
func (t *RoundTracker) Observe(ev Event) bool {
	switch ev.Type {
	case EventWriterDone:
		if ev.Round <= t.highestWriter {
			return false
		}
		t.highestWriter = ev.Round
		return true
	case EventCriticDone:
		if ev.Round != t.highestWriter || ev.Round <= t.highestCritic {
			return false
		}
		t.highestCritic = ev.Round
		return true
	}
	return true
}

// Current is the round the loop is in: the latest writer round, or zero
// before any draft exists.
func (t *RoundTracker) Current() int {
	return t.highestWriter
}

// CompletedRounds counts writer/critic pairs that both finished.
func (t *RoundTracker) CompletedRounds() int {
	return t.highestCritic
}
