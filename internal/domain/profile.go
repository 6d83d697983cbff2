// Package domain contains team entities without transport or lifecycle logic.
package domain

import "errors"

const (
	MaxDisplayNameLen = 36
	MaxEmailLen       = 254
)

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrEmailTooLong       = errors.New("email too long")
)

// Profile is the local participant's identity. ID is opaque and assigned by
// the channel provider; it stays empty until the provider is opened.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// NewProfile avoids raw literals at call sites and keeps validation in one place.
func NewProfile(displayName, email string) (*Profile, error) {
	p := &Profile{}
	if err := p.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	if err := p.SetEmail(email); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}

// SetEmail accepts the empty string; email is optional.
func (p *Profile) SetEmail(email string) error {
	if len(email) > MaxEmailLen {
		return ErrEmailTooLong
	}
	p.Email = email
	return nil
}
