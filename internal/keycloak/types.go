package keycloak

// User mirrors the provider's user representation. Pointer fields
// distinguish "leave unchanged" from "set to false" in partial updates.
type User struct {
	ID              string              `json:"id,omitempty"`
	Username        string              `json:"username,omitempty"`
	Email           string              `json:"email,omitempty"`
	FirstName       string              `json:"firstName,omitempty"`
	LastName        string              `json:"lastName,omitempty"`
	Enabled         *bool               `json:"enabled,omitempty"`
	EmailVerified   *bool               `json:"emailVerified,omitempty"`
	Attributes      map[string][]string `json:"attributes,omitempty"`
	RequiredActions []string            `json:"requiredActions,omitempty"`
	Credentials     []Credential        `json:"credentials,omitempty"`
}

// Credential is a credential attached to a user at creation time.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// Group is a realm group.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// IsEmailVerified reports whether the account's email address is verified.
func (u *User) IsEmailVerified() bool {
	return u.EmailVerified != nil && *u.EmailVerified
}

// IsEnabled reports whether the account is enabled; the provider treats an
// absent flag as enabled.
func (u *User) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// Attr returns the first value stored under key in a provider attribute map,
// or the empty string.
func Attr(attrs map[string][]string, key string) string {
	if vs := attrs[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Bool returns a pointer to b, for building partial user updates.
func Bool(b bool) *bool {
	return &b
}
