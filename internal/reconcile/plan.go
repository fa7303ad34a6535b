// Package reconcile computes and applies the difference between the roster
// and the accounts held by the identity provider.
package reconcile

import (
	"fmt"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/roster"
)

// adminUsername is protected from disablement regardless of configuration.
const adminUsername = "admin"

// Options configures one reconciliation run. Values are injected by the
// caller and never mutated.
type Options struct {
	// Protected lists usernames and emails that must never be disabled.
	Protected []string
	// RequiredActions are applied to newly created accounts.
	RequiredActions []string
	// InitialGroups are resolved by name and joined on account creation.
	InitialGroups []string
	// DefaultLocale is stored as the locale attribute of new accounts.
	DefaultLocale string
	// EmailFilter restricts the run to one roster email and skips the
	// disable phase entirely.
	EmailFilter string
	// DryRun reports every decision without calling the provider.
	DryRun bool
	// ResendVerification re-arms and re-sends verification emails for
	// matched accounts whose email is unverified.
	ResendVerification bool
}

func (o Options) isProtected(account keycloak.User) bool {
	if account.Username == adminUsername {
		return true
	}
	for _, p := range o.Protected {
		if p != "" && (p == account.Username || p == account.Email) {
			return true
		}
	}
	return false
}

// FieldChange is one field-level deviation between a roster record and the
// matching account.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

func (fc FieldChange) String() string {
	old := fc.Old
	if old == "" {
		old = "(empty)"
	}
	val := fc.New
	if val == "" {
		val = "(empty)"
	}
	return fmt.Sprintf("%s: %s -> %s", fc.Field, old, val)
}

// CreateAction creates a provider account for a roster record.
type CreateAction struct {
	Record roster.User
}

// UpdateAction reconciles a roster record with its matching account.
type UpdateAction struct {
	Record  roster.User
	Account keycloak.User
	Changes []FieldChange
}

// DisableAction disables an account absent from the roster.
type DisableAction struct {
	Account keycloak.User
}

// Plan holds the disjoint action sets of one run. It is computed fresh per
// run and never persisted.
type Plan struct {
	Creates  []CreateAction
	Updates  []UpdateAction
	UpToDate []UpdateAction
	Disables []DisableAction
	// Spared are accounts absent from the roster but kept by protection
	// rules.
	Spared []keycloak.User
}

// BuildPlan computes the create/update/disable sets for the given roster and
// provider accounts. It makes no provider calls. The email lookup is built
// once and frozen for the whole run: a roster row that changes an account's
// email does not re-key the lookup.
func BuildPlan(records []roster.User, accounts []keycloak.User, opts Options) *Plan {
	byEmail := make(map[string]keycloak.User, len(accounts))
	for _, a := range accounts {
		if a.Email != "" {
			// Last write wins on duplicate emails.
			byEmail[a.Email] = a
		}
	}

	plan := &Plan{}
	matched := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Username == "" || rec.Email == "" {
			continue
		}
		if opts.EmailFilter != "" && rec.Email != opts.EmailFilter {
			continue
		}
		matched[rec.Email] = true

		account, ok := byEmail[rec.Email]
		if !ok {
			plan.Creates = append(plan.Creates, CreateAction{Record: rec})
			continue
		}

		action := UpdateAction{Record: rec, Account: account, Changes: diff(rec, account)}
		if len(action.Changes) == 0 {
			plan.UpToDate = append(plan.UpToDate, action)
		} else {
			plan.Updates = append(plan.Updates, action)
		}
	}

	if opts.EmailFilter == "" {
		for _, account := range accounts {
			if account.Email == "" || matched[account.Email] {
				continue
			}
			if opts.isProtected(account) {
				plan.Spared = append(plan.Spared, account)
				continue
			}
			plan.Disables = append(plan.Disables, DisableAction{Account: account})
		}
	}
	return plan
}

// diff compares every synchronized field. First and last name deviate only
// when the provider holds no value; provider-held names are never
// overwritten.
func diff(rec roster.User, account keycloak.User) []FieldChange {
	var changes []FieldChange

	if account.Email != rec.Email {
		changes = append(changes, FieldChange{"email", account.Email, rec.Email})
	}

	attrs := []struct {
		field string
		have  string
		want  string
	}{
		{"fullName", keycloak.Attr(account.Attributes, "fullName"), rec.FullName},
		{"hometown", keycloak.Attr(account.Attributes, "hometown"), rec.Hometown},
		{"effectiveDate", keycloak.Attr(account.Attributes, "effectiveDate"), rec.EffectiveDate},
		{"expirationDate", keycloak.Attr(account.Attributes, "expirationDate"), rec.ExpirationDate},
		{"discord", keycloak.Attr(account.Attributes, "discord"), rec.Discord},
		{"bricklink", keycloak.Attr(account.Attributes, "bricklink"), rec.Bricklink},
	}
	for _, a := range attrs {
		if a.have != a.want {
			changes = append(changes, FieldChange{a.field, a.have, a.want})
		}
	}

	if account.FirstName == "" && rec.FirstName != "" {
		changes = append(changes, FieldChange{"firstName", "", rec.FirstName})
	}
	if account.LastName == "" && rec.LastName != "" {
		changes = append(changes, FieldChange{"lastName", "", rec.LastName})
	}
	return changes
}
