package session

import (
	"bytes"
	"encoding/json"
)

// Role is the server-assigned role of the signed-in user. The gateway does not interpret it.
type Role string

// RoleNone is the role of an anonymous session.
const RoleNone Role = ""

// User is the profile record returned by the identity service.
//
// ID, Email and Name are decoded for convenience; Raw keeps the full JSON object so callers can
// read fields the gateway does not know about.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains the original object in Raw.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = User(p)
	u.Raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON returns Raw when present so unknown profile fields survive a round trip.
func (u User) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}
	type plain User
	return json.Marshal(plain(u))
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if len(u.Raw) > 0 {
		out.Raw = append(json.RawMessage(nil), u.Raw...)
	}
	return &out
}

// Session is a snapshot of the current credential set.
//
// An empty AccessToken means no Authorization header is attached. A non-empty RefreshToken
// with an empty or expired AccessToken means the next protected call refreshes first.
type Session struct {
	AccessToken  string
	RefreshToken string
	Role         Role
	User         *User
}

// Authenticated reports whether an access token is held.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// Recoverable reports whether a refresh token is held.
func (s Session) Recoverable() bool {
	return s.RefreshToken != ""
}

// Patch is a partial update applied by [Store.Set]. Nil fields are left untouched; a pointer to
// the zero value clears the field.
type Patch struct {
	AccessToken  *string
	RefreshToken *string
	Role         *Role
	User         *User
}

// Ref returns a pointer to v, for building a [Patch] inline.
func Ref[T any](v T) *T {
	return &v
}

// Persisted is the durable subset of a session.
type Persisted struct {
	RefreshToken string
	Restore      bool
}
