package guest

import "time"

// timeAfter returns a channel that never fires for non-positive d.
func timeAfter(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.After(d)
}
