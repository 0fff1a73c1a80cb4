package usage

import "time"

// Usage is a principal's optimization-session allowance for the current
// window. Starting a session consumes one unit; the window rolls at ResetsAt.
type Usage struct {
	Plan     string    `json:"plan"`
	Limit    int       `json:"limit"`
	Used     int       `json:"used"`
	ResetsAt time.Time `json:"resetsAt"`
}

// Remaining reports how many sessions the principal can still start
// before the window rolls.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// rolled advances the window when now has reached ResetsAt.
func (u Usage) rolled(now time.Time) Usage {
	if now.Before(u.ResetsAt) {
		return u
	}
	u.Used = 0
	u.ResetsAt = now.Add(allowancePeriod)
	return u
}
