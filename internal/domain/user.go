// Package domain contains core domain types for the bookspirit application.
package domain

import (
	"time"
)

// UserProfile is the engagement record kept for a reader.
type UserProfile struct {
	UserID          string     `json:"user_id"`
	Nickname        string     `json:"nickname"`
	Level           int        `json:"level"`
	Streak          int        `json:"streak"`
	Points          int        `json:"points"`
	LastCheckinDate *time.Time `json:"last_checkin_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DaysSinceCheckin returns whole days elapsed since the last check-in.
// Returns 0 if the user never checked in or the date lies in the future.
func (u *UserProfile) DaysSinceCheckin(now time.Time) int {
	if u == nil || u.LastCheckinDate == nil {
		return 0
	}
	elapsed := now.Sub(*u.LastCheckinDate)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}
