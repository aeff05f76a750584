package service

import (
	"strings"
	"time"
)

// SystemUser is recorded when a request names no acting user.
const SystemUser = "system"

func actor(user string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	return SystemUser
}

// stamp returns the current time at the precision durations are stored in.
func stamp(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}

// durationSince returns end-start in milliseconds, or nil when start is unknown.
func durationSince(start *time.Time, end time.Time) *int64 {
	if start == nil {
		return nil
	}
	ms := end.Sub(*start).Milliseconds()
	return &ms
}
