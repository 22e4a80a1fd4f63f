package models

import (
	"time"
)

// State is a stage of the authentication and group selection flow.
type State string

const (
	StateUnauthenticated     State = "unauthenticated"
	StateAwaitingTaxID       State = "awaiting_tax_id"
	StateAwaitingOrgChoice   State = "awaiting_org_choice"
	StateAwaitingFullName    State = "awaiting_full_name"
	StateAwaitingGroupChoice State = "awaiting_group_choice"
	StateReady               State = "ready"
)

// Report is a tabular attendance report in decoded form.
type Report struct {
	Filename string
	Text     string
}

// Session is the ephemeral, per-identity conversation state.
// It shadows the cached User and carries an upload waiting for authentication.
type Session struct {
	IdentityID int64
	State      State

	User    *User
	Org     *Organization
	Pending *Report

	UpdatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	if s.Org != nil {
		org := *s.Org
		c.Org = &org
	}
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}
