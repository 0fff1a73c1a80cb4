package usage

import "errors"

// ErrLimitReached indicates the principal has no sessions left in the
// current window. Handlers map it to 429 with code limit_reached.
var ErrLimitReached = errors.New("optimization session limit reached")
