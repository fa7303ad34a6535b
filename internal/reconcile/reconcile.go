package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/roster"
)

// Directory is the subset of provider operations the reconciler mutates
// through. *keycloak.Client satisfies it.
type Directory interface {
	CreateUser(ctx context.Context, u keycloak.User) (string, error)
	UpdateUser(ctx context.Context, id string, u keycloak.User) error
	SendVerifyEmail(ctx context.Context, id string) error
	ListGroups(ctx context.Context, search string) ([]keycloak.Group, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
}

// Reconciler computes a plan and either reports it (dry run) or applies it
// against the provider, one blocking call at a time.
type Reconciler struct {
	dir  Directory
	opts Options
	log  *slog.Logger
	out  io.Writer
}

// New creates a reconciler writing its per-decision report to stdout.
func New(dir Directory, opts Options, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{dir: dir, opts: opts, log: log, out: os.Stdout}
}

// SetOutput redirects the per-decision report.
func (r *Reconciler) SetOutput(w io.Writer) {
	r.out = w
}

// Run reconciles the roster against the current accounts and returns the
// plan that was reported or applied. A failed provider call affects only its
// own action; the remaining actions still run.
func (r *Reconciler) Run(ctx context.Context, records []roster.User, accounts []keycloak.User) *Plan {
	for _, rec := range records {
		if rec.Username == "" || rec.Email == "" {
			r.log.Warn("skipping roster record without username or email",
				"username", rec.Username, "email", rec.Email)
		}
	}

	plan := BuildPlan(records, accounts, r.opts)
	if r.opts.DryRun {
		r.report(plan)
		return plan
	}
	r.apply(ctx, plan)
	return plan
}

// report prints one line per decision, with the field-level diff for
// updates, so an operator can review the plan before applying it.
func (r *Reconciler) report(plan *Plan) {
	for _, a := range plan.Creates {
		rec := a.Record
		fmt.Fprintf(r.out, "Creating new user %s (%s)...\n", rec.Username, rec.Email)
		fmt.Fprintf(r.out, "  New user details: username=%s, email=%s, firstName=%s, lastName=%s\n",
			rec.Username, rec.Email, rec.FirstName, rec.LastName)
		if len(r.opts.InitialGroups) > 0 {
			fmt.Fprintf(r.out, "  Will be added to groups: %s\n", strings.Join(r.opts.InitialGroups, ", "))
		}
	}
	for _, a := range plan.Updates {
		fmt.Fprintf(r.out, "Updating existing user %s (%s)...\n", a.Account.Username, a.Record.Email)
		descriptions := make([]string, len(a.Changes))
		for i, change := range a.Changes {
			descriptions[i] = change.String()
		}
		fmt.Fprintf(r.out, "  Changes: %s\n", strings.Join(descriptions, ", "))
	}
	for _, a := range plan.UpToDate {
		fmt.Fprintf(r.out, "User %s (%s) is already up-to-date\n", a.Account.Username, a.Record.Email)
	}
	for _, account := range plan.Spared {
		fmt.Fprintf(r.out, "Skipping protected user %s (%s)\n", account.Username, account.Email)
	}
	for _, a := range plan.Disables {
		fmt.Fprintf(r.out, "Disabling user %s (%s)...\n", a.Account.Username, a.Account.Email)
		fmt.Fprintf(r.out, "  Change: enabled: %t -> false\n", a.Account.IsEnabled())
	}
}

func (r *Reconciler) apply(ctx context.Context, plan *Plan) {
	for _, a := range plan.Creates {
		r.applyCreate(ctx, a)
	}
	for _, a := range plan.Updates {
		r.applyUpdate(ctx, a)
	}
	for _, a := range plan.UpToDate {
		r.log.Info("user already up-to-date", "username", a.Account.Username, "email", a.Record.Email)
		r.checkVerification(ctx, a.Account)
	}
	for _, account := range plan.Spared {
		r.log.Info("skipping protected user", "username", account.Username, "email", account.Email)
	}
	for _, a := range plan.Disables {
		r.applyDisable(ctx, a)
	}
}

func (r *Reconciler) applyCreate(ctx context.Context, a CreateAction) {
	rec := a.Record
	r.log.Info("creating new user", "username", rec.Username, "email", rec.Email)

	user := keycloak.User{
		Username:        rec.Username,
		Email:           rec.Email,
		FirstName:       rec.FirstName,
		LastName:        rec.LastName,
		Enabled:         keycloak.Bool(true),
		EmailVerified:   keycloak.Bool(false),
		RequiredActions: r.opts.RequiredActions,
		Attributes:      r.newAttributes(rec),
		Credentials: []keycloak.Credential{{
			Type:      "password",
			Value:     temporaryPassword(),
			Temporary: true,
		}},
	}

	id, err := r.dir.CreateUser(ctx, user)
	if err != nil {
		r.log.Error("error creating user", "email", rec.Email, "error", err)
		return
	}
	for _, groupName := range r.opts.InitialGroups {
		r.addToGroup(ctx, id, groupName)
	}
}

func (r *Reconciler) applyUpdate(ctx context.Context, a UpdateAction) {
	r.log.Info("updating existing user",
		"username", a.Account.Username, "email", a.Record.Email, "changes", len(a.Changes))

	attrs := make(map[string][]string, len(a.Account.Attributes))
	for k, v := range a.Account.Attributes {
		attrs[k] = v
	}
	overlayAttributes(attrs, a.Record)

	firstName := a.Account.FirstName
	if firstName == "" {
		firstName = a.Record.FirstName
	}
	lastName := a.Account.LastName
	if lastName == "" {
		lastName = a.Record.LastName
	}

	update := keycloak.User{
		Email:      a.Record.Email,
		FirstName:  firstName,
		LastName:   lastName,
		Attributes: attrs,
	}
	if err := r.dir.UpdateUser(ctx, a.Account.ID, update); err != nil {
		r.log.Error("error updating user", "email", a.Record.Email, "error", err)
		return
	}
	r.checkVerification(ctx, a.Account)
}

func (r *Reconciler) applyDisable(ctx context.Context, a DisableAction) {
	r.log.Info("disabling user", "username", a.Account.Username, "email", a.Account.Email)
	if err := r.dir.UpdateUser(ctx, a.Account.ID, keycloak.User{Enabled: keycloak.Bool(false)}); err != nil {
		r.log.Error("error disabling user", "username", a.Account.Username, "error", err)
	}
}

// checkVerification warns about unverified emails and, when configured,
// re-arms verification and triggers a new verification email. Send failures
// degrade to warnings.
func (r *Reconciler) checkVerification(ctx context.Context, account keycloak.User) {
	if account.IsEmailVerified() {
		return
	}
	r.log.Warn("user has not verified their email",
		"username", account.Username, "email", account.Email)
	if !r.opts.ResendVerification {
		return
	}

	if err := r.dir.UpdateUser(ctx, account.ID, keycloak.User{EmailVerified: keycloak.Bool(false)}); err != nil {
		r.log.Warn("error re-arming email verification", "email", account.Email, "error", err)
		return
	}
	if err := r.dir.SendVerifyEmail(ctx, account.ID); err != nil {
		r.log.Warn("error sending verification email", "email", account.Email, "error", err)
	}
}

// addToGroup resolves a group by name and joins the user to it. An unknown
// group name is a warning, not a failure.
func (r *Reconciler) addToGroup(ctx context.Context, userID, groupName string) {
	groups, err := r.dir.ListGroups(ctx, groupName)
	if err != nil {
		r.log.Error("error looking up group", "group", groupName, "error", err)
		return
	}
	for _, g := range groups {
		if g.Name == groupName {
			if err := r.dir.AddUserToGroup(ctx, userID, g.ID); err != nil {
				r.log.Error("error adding user to group", "group", groupName, "error", err)
			} else {
				r.log.Info("added user to group", "group", groupName)
			}
			return
		}
	}
	r.log.Warn("group not found", "group", groupName)
}

// newAttributes builds the attribute map for a new account: the default
// locale plus every non-empty roster field.
func (r *Reconciler) newAttributes(rec roster.User) map[string][]string {
	attrs := make(map[string][]string)
	if r.opts.DefaultLocale != "" {
		attrs["locale"] = []string{r.opts.DefaultLocale}
	}
	overlayAttributes(attrs, rec)
	return attrs
}

// overlayAttributes copies each non-empty roster field into attrs; values
// already present under other keys are preserved.
func overlayAttributes(attrs map[string][]string, rec roster.User) {
	set := func(key, value string) {
		if value != "" {
			attrs[key] = []string{value}
		}
	}
	set("fullName", rec.FullName)
	set("hometown", rec.Hometown)
	set("effectiveDate", rec.EffectiveDate)
	set("expirationDate", rec.ExpirationDate)
	set("discord", rec.Discord)
	set("bricklink", rec.Bricklink)
}

// temporaryPassword returns a strong random password that is never meant to
// be typed. The provider marks it temporary so the user is forced through a
// credential setup flow.
func temporaryPassword() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
