package model

import "time"

// QuotaRecord is the durable counter for one key within one fixed window.
//
// A record is created lazily on the first admission attempt for its key and
// is reset in place (Count = 0, WindowStart = now) once the window elapses;
// records are never deleted.
type QuotaRecord struct {
	Key         string    `json:"key"         db:"key"`
	WindowStart time.Time `json:"windowStart" db:"window_start"`
	Count       int       `json:"count"       db:"count"`
	Limit       int       `json:"limit"       db:"limit_count"`
}

// Expired reports whether now falls outside the record's window.
func (q *QuotaRecord) Expired(now time.Time, window time.Duration) bool {
	return !now.Before(q.WindowStart.Add(window))
}

// ResetAt is the instant at which the current window ends.
func (q *QuotaRecord) ResetAt(window time.Duration) time.Time {
	return q.WindowStart.Add(window)
}

// Remaining returns how many admissions are left in the current window.
func (q *QuotaRecord) Remaining() int {
	if q.Count >= q.Limit {
		return 0
	}
	return q.Limit - q.Count
}
