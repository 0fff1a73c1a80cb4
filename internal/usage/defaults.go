package usage

import (
	"strings"
	"time"
)

const (
	planStarter       = "Starter"
	planGuest         = "Guest"
	starterSessionCap = 10
	guestSessionCap   = 3
	allowancePeriod   = 7 * 24 * time.Hour
	guestUserIDPrefix = "guest:"
)

// defaultUsageFor picks the allowance for a principal. Guests get a small
// trial cap until they claim the account; see internal/account.
func defaultUsageFor(userID string) Usage {
	plan, limit := planStarter, starterSessionCap
	if strings.HasPrefix(userID, guestUserIDPrefix) {
		plan, limit = planGuest, guestSessionCap
	}
	return Usage{
		Plan:     plan,
		Limit:    limit,
		Used:     0,
		ResetsAt: time.Now().UTC().Add(allowancePeriod),
	}
}
