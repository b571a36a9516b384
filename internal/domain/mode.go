package domain

import "time"

// Mode is whether the device treats itself as connected for sync purposes.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Preference is the operator's mode preference.
type Preference string

const (
	PreferenceAuto    Preference = "auto"
	PreferenceOnline  Preference = "online"
	PreferenceOffline Preference = "offline"
)

// ParsePreference validates p.
func ParsePreference(p string) (Preference, bool) {
	switch Preference(p) {
	case PreferenceAuto, PreferenceOnline, PreferenceOffline:
		return Preference(p), true
	default:
		return "", false
	}
}

// ModeChanged is delivered to mode subscribers once per real transition.
type ModeChanged struct {
	Mode     Mode      `json:"mode"`
	Previous Mode      `json:"previous"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}
