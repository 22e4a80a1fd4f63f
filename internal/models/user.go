package models

import (
	"strings"
	"time"
)

// PersonName is an employee name as typed by the contact.
// Middle is nil when the contact omitted it.
type PersonName struct {
	Family string
	First  string
	Middle *string
}

// String joins the name parts with single spaces.
func (n PersonName) String() string {
	parts := []string{n.Family, n.First}
	if n.Middle != nil {
		parts = append(parts, *n.Middle)
	}
	return strings.Join(parts, " ")
}

// Person is an employee resolved inside the bound organization.
type Person struct {
	Ref  int64
	Name PersonName
}

// User is the durable record of a chat contact and how far it got through
// authentication. Each optional pointer stays nil until its stage completes.
type User struct {
	IdentityID  int64 // chat contact identity
	Username    string
	DisplayName string

	TaxID     string  // declared before the org is resolved
	Org       *OrgKey // weak reference, lookup only
	Person    *Person
	GroupCode *string

	ReceiveCount   int
	SendCount      int
	LastExchangeAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Org != nil {
		org := *u.Org
		c.Org = &org
	}
	if u.Person != nil {
		p := *u.Person
		if u.Person.Name.Middle != nil {
			m := *u.Person.Name.Middle
			p.Name.Middle = &m
		}
		c.Person = &p
	}
	if u.GroupCode != nil {
		g := *u.GroupCode
		c.GroupCode = &g
	}
	if u.LastExchangeAt != nil {
		t := *u.LastExchangeAt
		c.LastExchangeAt = &t
	}
	return &c
}

// IsAuthenticated reports whether org and person are both resolved.
func (u *User) IsAuthenticated() bool {
	return u != nil && u.Org != nil && u.Person != nil
}
