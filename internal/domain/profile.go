package domain

import "time"

// UserProfile is a point-in-time snapshot of a user's behavioral baseline:
// the bounded window of recent transactions plus rolling statistics derived
// from it. Snapshots are produced by the behavior store and are safe to share
// across concurrent evaluators; the store never hands out its mutable state.
type UserProfile struct {
	UserID string `json:"userId"`

	// History holds the windowed transactions, newest last.
	History []Transaction `json:"history"`

	// Rolling amount statistics over History.
	MeanAmount   float64 `json:"meanAmount"`
	StdDevAmount float64 `json:"stdDevAmount"`

	// Devices and IPs recently seen for this user.
	Devices map[string]struct{} `json:"-"`
	IPs     map[string]struct{} `json:"-"`

	// LastSeen is the timestamp of the newest windowed transaction.
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Empty reports whether the profile has no transaction history.
func (p *UserProfile) Empty() bool {
	return len(p.History) == 0
}

// Count returns the number of transactions in the window.
func (p *UserProfile) Count() int {
	return len(p.History)
}

// Last returns the most recent windowed transaction, if any.
func (p *UserProfile) Last() (Transaction, bool) {
	if len(p.History) == 0 {
		return Transaction{}, false
	}
	return p.History[len(p.History)-1], true
}

// SeenDevice reports whether the device fingerprint appears in the window.
func (p *UserProfile) SeenDevice(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	_, ok := p.Devices[fingerprint]
	return ok
}

// SeenIP reports whether the IP appears in the window.
func (p *UserProfile) SeenIP(ip string) bool {
	if ip == "" {
		return false
	}
	_, ok := p.IPs[ip]
	return ok
}
