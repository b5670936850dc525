package domain

import (
	"errors"
	"strings"
	"time"
)

// Role is the local authorization role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ExternalIdentity links a local user to their shadow account on the external platform.
// PasswordSealed is the age ciphertext of the external password, never the plaintext.
// Email is the address the account was registered with; it differs from the local email when
// that address already belonged to another external account. Rows written before the column
// existed leave it empty.
type ExternalIdentity struct {
	UserID         int64
	Username       string
	PasswordSealed string
	Email          string
}

// DefaultLastName fills the external last name when the local user has none.
const DefaultLastName = "User"

// User is the local account. ExternalIdentity is nil until the account has been provisioned.
type User struct {
	ID               string
	Email            string
	Role             Role
	FirstName        string
	LastName         string
	ExternalIdentity *ExternalIdentity
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Provisioned reports whether the external identity triplet is set.
func (u *User) Provisioned() bool {
	return u != nil && u.ExternalIdentity != nil
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ExternalEmail returns the email registered on the shadow account, falling back to the local
// email when none was recorded.
func (u *User) ExternalEmail() string {
	if u.ExternalIdentity != nil && u.ExternalIdentity.Email != "" {
		return u.ExternalIdentity.Email
	}
	return u.Email
}

// ExternalFirstName is the first name given to the shadow account: the local first name, or the
// email local part when that is blank.
func (u *User) ExternalFirstName() string {
	if s := strings.TrimSpace(u.FirstName); s != "" {
		return s
	}
	return u.LocalPart()
}

// ExternalLastName is the last name given to the shadow account: the local last name, or
// DefaultLastName.
func (u *User) ExternalLastName() string {
	if s := strings.TrimSpace(u.LastName); s != "" {
		return s
	}
	return DefaultLastName
}

// LocalPart returns the part of the email before the last "@".
func (u *User) LocalPart() string {
	local, _ := SplitEmail(u.Email)
	return local
}

// SplitEmail splits addr at the last "@". domain is empty when there is none.
func SplitEmail(addr string) (local, domain string) {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
// Email is normalized to lower case and an empty role defaults to RoleUser.
func (u *User) Validate() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return errors.New("email is required")
	}
	if local, dom := SplitEmail(u.Email); local == "" || dom == "" {
		return errors.New("email must have a local part and a domain")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleAdmin && u.Role != RoleUser {
		return errors.New("role must be admin or user")
	}
	return nil
}
