package resolver

import (
	"fmt"
	"time"
)

// Countdown renders the time left until deadline as MM:SS, or 00:00 once passed.
func Countdown(deadline, now time.Time) string {
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return "00:00"
	}
	seconds := int(remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
