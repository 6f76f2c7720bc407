package types

import "time"

// Principal is the identity a request runs as. The zero value is the
// anonymous principal.
type Principal struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Superuser bool      `json:"superuser"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnonymousPrincipal is the principal used when a request carries no identity.
var AnonymousPrincipal = Principal{}

// IsAnonymous reports whether p carries no identity.
func (p Principal) IsAnonymous() bool {
	return p.ID == ""
}

// PublicInfo is the subset of a principal exposed on other principals'
// resources.
type PublicInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Public returns the publicly visible part of p.
func (p Principal) Public() PublicInfo {
	return PublicInfo{ID: p.ID, Username: p.Username}
}
