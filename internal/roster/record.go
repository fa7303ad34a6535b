// Package roster turns a membership worksheet into an ordered list of user
// records. Column roles are inferred from the shape of sampled data rows
// rather than from a fixed layout, because the uploaded sheets do not follow
// a contractual format.
package roster

import (
	"regexp"
	"strings"
)

// User is one person's target state derived from a roster row. Optional
// fields are empty strings when the source row carries no value.
type User struct {
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	FullName       string `json:"fullName,omitempty"`
	Hometown       string `json:"hometown,omitempty"`
	EffectiveDate  string `json:"effectiveDate,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	Discord        string `json:"discord,omitempty"`
	Bricklink      string `json:"bricklink,omitempty"`
}

// DateLayout is the normalized dd.mm.yyyy form used for membership dates.
const DateLayout = "02.01.2006"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s has the shape of an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// SplitName derives first and last name from a full name. The first token
// becomes the first name and the last token the last name; middle tokens are
// dropped. A single token becomes the first name only.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}
