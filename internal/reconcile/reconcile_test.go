package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/roster"
)

// fakeDirectory records every mutation and can fail selected calls.
type fakeDirectory struct {
	created     []keycloak.User
	updates     map[string][]keycloak.User
	verifySends []string
	groupAdds   []string
	groups      []keycloak.Group

	failCreateFor  string // username whose create call fails
	failUpdateFor  string // id whose update call fails
	failVerifySend bool

	calls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{updates: make(map[string][]keycloak.User)}
}

func (f *fakeDirectory) CreateUser(_ context.Context, u keycloak.User) (string, error) {
	f.calls++
	if u.Username == f.failCreateFor {
		return "", errors.New("create failed")
	}
	f.created = append(f.created, u)
	return "id-" + u.Username, nil
}

func (f *fakeDirectory) UpdateUser(_ context.Context, id string, u keycloak.User) error {
	f.calls++
	if id == f.failUpdateFor {
		return errors.New("update failed")
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeDirectory) SendVerifyEmail(_ context.Context, id string) error {
	f.calls++
	if f.failVerifySend {
		return errors.New("send failed")
	}
	f.verifySends = append(f.verifySends, id)
	return nil
}

func (f *fakeDirectory) ListGroups(_ context.Context, _ string) ([]keycloak.Group, error) {
	f.calls++
	return f.groups, nil
}

func (f *fakeDirectory) AddUserToGroup(_ context.Context, userID, groupID string) error {
	f.calls++
	f.groupAdds = append(f.groupAdds, userID+":"+groupID)
	return nil
}

func record(username, email, first, last string) roster.User {
	return roster.User{Username: username, Email: email, FirstName: first, LastName: last}
}

func account(id, username, email string) keycloak.User {
	return keycloak.User{ID: id, Username: username, Email: email, Enabled: keycloak.Bool(true)}
}

func TestBuildPlanDisjointSets(t *testing.T) {
	records := []roster.User{
		record("u-new", "new@example.com", "New", "Member"),
		record("u-known", "known@example.com", "Known", "Member"),
	}
	known := account("id-1", "known-user", "known@example.com")
	known.Attributes = map[string][]string{"hometown": {"Turku"}}
	accounts := []keycloak.User{
		known,
		account("id-2", "gone-user", "gone@example.com"),
	}

	plan := BuildPlan(records, accounts, Options{})

	if len(plan.Creates) != 1 || plan.Creates[0].Record.Email != "new@example.com" {
		t.Errorf("unexpected creates: %+v", plan.Creates)
	}
	if len(plan.Updates) != 1 || plan.Updates[0].Account.ID != "id-1" {
		t.Errorf("unexpected updates: %+v", plan.Updates)
	}
	if len(plan.Disables) != 1 || plan.Disables[0].Account.ID != "id-2" {
		t.Errorf("unexpected disables: %+v", plan.Disables)
	}
}

func TestBuildPlanIdenticalAccountIsUpToDate(t *testing.T) {
	rec := roster.User{
		Username:  "x",
		Email:     "a@b.com",
		FirstName: "A",
	}
	acc := keycloak.User{ID: "id-1", Username: "a-user", Email: "a@b.com", FirstName: "A"}

	plan := BuildPlan([]roster.User{rec}, []keycloak.User{acc}, Options{})

	if len(plan.Creates) != 0 {
		t.Errorf("expected no creates, got %+v", plan.Creates)
	}
	if len(plan.Updates) != 0 {
		t.Errorf("expected no updates, got %+v", plan.Updates)
	}
	if len(plan.UpToDate) != 1 {
		t.Errorf("expected one up-to-date entry, got %+v", plan.UpToDate)
	}
	if len(plan.Disables) != 0 {
		t.Errorf("expected no disables, got %+v", plan.Disables)
	}
}

func TestBuildPlanNamesNeverOverwritten(t *testing.T) {
	rec := record("x", "a@b.com", "Ada", "Lovelace")
	acc := keycloak.User{ID: "id-1", Email: "a@b.com", FirstName: "Adeline", LastName: "King"}

	plan := BuildPlan([]roster.User{rec}, []keycloak.User{acc}, Options{})

	if len(plan.Updates) != 0 {
		t.Errorf("expected provider-held names to produce no diff, got %+v", plan.Updates)
	}
}

func TestBuildPlanFillsEmptyNames(t *testing.T) {
	rec := record("x", "a@b.com", "Ada", "Lovelace")
	acc := keycloak.User{ID: "id-1", Email: "a@b.com"}

	plan := BuildPlan([]roster.User{rec}, []keycloak.User{acc}, Options{})

	if len(plan.Updates) != 1 {
		t.Fatalf("expected one update, got %+v", plan.Updates)
	}
	fields := make([]string, 0, 2)
	for _, c := range plan.Updates[0].Changes {
		fields = append(fields, c.Field)
	}
	if got := strings.Join(fields, ","); got != "firstName,lastName" {
		t.Errorf("expected firstName and lastName changes, got %s", got)
	}
}

func TestBuildPlanAdminNeverDisabled(t *testing.T) {
	accounts := []keycloak.User{
		account("id-1", "admin", "admin@example.com"),
		account("id-2", "mortal", "mortal@example.com"),
	}

	plan := BuildPlan(nil, accounts, Options{})

	if len(plan.Disables) != 1 || plan.Disables[0].Account.Username != "mortal" {
		t.Errorf("expected only the mortal account disabled, got %+v", plan.Disables)
	}
	if len(plan.Spared) != 1 || plan.Spared[0].Username != "admin" {
		t.Errorf("expected admin spared, got %+v", plan.Spared)
	}
}

func TestBuildPlanProtectedByUsernameAndEmail(t *testing.T) {
	accounts := []keycloak.User{
		account("id-1", "board", "board@example.com"),
		account("id-2", "other", "treasurer@example.com"),
		account("id-3", "mortal", "mortal@example.com"),
	}
	opts := Options{Protected: []string{"board", "treasurer@example.com"}}

	plan := BuildPlan(nil, accounts, opts)

	if len(plan.Disables) != 1 || plan.Disables[0].Account.Username != "mortal" {
		t.Errorf("expected only the unprotected account disabled, got %+v", plan.Disables)
	}
}

func TestBuildPlanAccountsWithoutEmailIgnored(t *testing.T) {
	accounts := []keycloak.User{{ID: "id-1", Username: "service-account"}}

	plan := BuildPlan(nil, accounts, Options{})

	if len(plan.Disables) != 0 {
		t.Errorf("expected accounts without email to be left alone, got %+v", plan.Disables)
	}
}

func TestBuildPlanEmailFilterSkipsDisablePhase(t *testing.T) {
	records := []roster.User{
		record("u-1", "one@example.com", "", ""),
		record("u-2", "two@example.com", "", ""),
	}
	accounts := []keycloak.User{
		account("id-9", "stale", "stale@example.com"),
	}
	opts := Options{EmailFilter: "one@example.com"}

	plan := BuildPlan(records, accounts, opts)

	if len(plan.Creates) != 1 || plan.Creates[0].Record.Email != "one@example.com" {
		t.Errorf("expected only the filtered record, got %+v", plan.Creates)
	}
	if len(plan.Disables) != 0 {
		t.Errorf("expected no disables in filter mode, got %+v", plan.Disables)
	}
}

func TestBuildPlanDuplicateEmailsLastWriteWins(t *testing.T) {
	accounts := []keycloak.User{
		account("id-1", "old", "dup@example.com"),
		account("id-2", "new", "dup@example.com"),
	}
	records := []roster.User{record("u", "dup@example.com", "", "")}

	plan := BuildPlan(records, accounts, Options{})

	if len(plan.UpToDate) != 1 || plan.UpToDate[0].Account.ID != "id-2" {
		t.Errorf("expected the later account to win the lookup, got %+v", plan.UpToDate)
	}
}

func TestDryRunMakesNoProviderCalls(t *testing.T) {
	dir := newFakeDirectory()
	opts := Options{DryRun: true, InitialGroups: []string{"members"}}
	rec := New(dir, opts, nil)
	var out bytes.Buffer
	rec.SetOutput(&out)

	records := []roster.User{record("u-new", "new@example.com", "New", "Member")}
	accounts := []keycloak.User{account("id-1", "stale", "stale@example.com")}

	plan := rec.Run(context.Background(), records, accounts)

	if dir.calls != 0 {
		t.Errorf("expected zero provider calls in dry-run mode, made %d", dir.calls)
	}
	if !strings.Contains(out.String(), "Creating new user") {
		t.Errorf("expected a create decision in the report, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Disabling user stale") {
		t.Errorf("expected a disable decision in the report, got:\n%s", out.String())
	}

	// The dry-run plan must be identical to the plan a live run would apply.
	live := BuildPlan(records, accounts, Options{InitialGroups: []string{"members"}})
	if len(live.Creates) != len(plan.Creates) ||
		len(live.Updates) != len(plan.Updates) ||
		len(live.Disables) != len(plan.Disables) {
		t.Errorf("dry-run plan differs from live plan: %+v vs %+v", plan, live)
	}
}

func TestApplyCreate(t *testing.T) {
	dir := newFakeDirectory()
	dir.groups = []keycloak.Group{{ID: "g1", Name: "members"}}
	opts := Options{
		RequiredActions: []string{"webauthn-register-passwordless"},
		InitialGroups:   []string{"members", "missing-group"},
		DefaultLocale:   "fi",
	}
	rec := New(dir, opts, nil)

	records := []roster.User{{
		Username:  "u-new",
		Email:     "new@example.com",
		FirstName: "New",
		LastName:  "Member",
		FullName:  "New Fine Member",
		Hometown:  "Turku",
	}}

	rec.Run(context.Background(), records, nil)

	if len(dir.created) != 1 {
		t.Fatalf("expected one created user, got %d", len(dir.created))
	}
	u := dir.created[0]
	if u.EmailVerified == nil || *u.EmailVerified {
		t.Error("expected emailVerified=false on creation")
	}
	if u.Enabled == nil || !*u.Enabled {
		t.Error("expected enabled=true on creation")
	}
	if len(u.Credentials) != 1 || !u.Credentials[0].Temporary || u.Credentials[0].Value == "" {
		t.Errorf("expected one temporary random credential, got %+v", u.Credentials)
	}
	if len(u.RequiredActions) != 1 || u.RequiredActions[0] != "webauthn-register-passwordless" {
		t.Errorf("unexpected required actions: %v", u.RequiredActions)
	}
	if keycloak.Attr(u.Attributes, "locale") != "fi" {
		t.Errorf("expected locale attribute, got %v", u.Attributes)
	}
	if keycloak.Attr(u.Attributes, "fullName") != "New Fine Member" {
		t.Errorf("expected fullName attribute, got %v", u.Attributes)
	}
	if _, ok := u.Attributes["discord"]; ok {
		t.Error("expected empty optional fields to stay absent from attributes")
	}

	// Resolvable group joined, unresolvable one only warned about.
	if len(dir.groupAdds) != 1 || dir.groupAdds[0] != "id-u-new:g1" {
		t.Errorf("unexpected group adds: %v", dir.groupAdds)
	}
}

func TestApplyUpdatePreservesExistingNamesAndAttributes(t *testing.T) {
	dir := newFakeDirectory()
	rec := New(dir, Options{}, nil)

	acc := keycloak.User{
		ID:        "id-1",
		Username:  "ada-user",
		Email:     "ada@example.com",
		FirstName: "Adeline",
		Attributes: map[string][]string{
			"locale":   {"fi"},
			"hometown": {"Espoo"},
		},
		EmailVerified: keycloak.Bool(true),
	}
	records := []roster.User{{
		Username:  "u-ada",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Hometown:  "Turku",
	}}

	rec.Run(context.Background(), records, []keycloak.User{acc})

	updates := dir.updates["id-1"]
	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	u := updates[0]
	if u.FirstName != "Adeline" {
		t.Errorf("expected provider-held first name preserved, got %q", u.FirstName)
	}
	if u.LastName != "Lovelace" {
		t.Errorf("expected empty last name filled from roster, got %q", u.LastName)
	}
	if keycloak.Attr(u.Attributes, "hometown") != "Turku" {
		t.Errorf("expected hometown overridden, got %v", u.Attributes)
	}
	if keycloak.Attr(u.Attributes, "locale") != "fi" {
		t.Errorf("expected unrelated attributes preserved, got %v", u.Attributes)
	}
}

func TestApplyOneFailureDoesNotStopTheBatch(t *testing.T) {
	dir := newFakeDirectory()
	dir.failUpdateFor = "id-1"
	rec := New(dir, Options{}, nil)

	records := []roster.User{
		record("u-1", "one@example.com", "One", "User"),
		record("u-2", "two@example.com", "Two", "User"),
	}
	accounts := []keycloak.User{
		account("id-1", "one-user", "one@example.com"),
		account("id-2", "two-user", "two@example.com"),
	}

	rec.Run(context.Background(), records, accounts)

	if len(dir.updates["id-1"]) != 0 {
		t.Errorf("expected failing update to record nothing, got %+v", dir.updates["id-1"])
	}
	if len(dir.updates["id-2"]) != 1 {
		t.Errorf("expected the second user to still be updated, got %+v", dir.updates["id-2"])
	}
}

func TestApplyResendVerification(t *testing.T) {
	dir := newFakeDirectory()
	rec := New(dir, Options{ResendVerification: true}, nil)

	acc := keycloak.User{
		ID:            "id-1",
		Username:      "ada-user",
		Email:         "ada@example.com",
		EmailVerified: keycloak.Bool(false),
	}
	records := []roster.User{record("u-ada", "ada@example.com", "", "")}

	rec.Run(context.Background(), records, []keycloak.User{acc})

	if len(dir.verifySends) != 1 || dir.verifySends[0] != "id-1" {
		t.Errorf("expected one verification email, got %v", dir.verifySends)
	}
	// One re-arm update beyond the none required by the empty diff.
	if len(dir.updates["id-1"]) != 1 || dir.updates["id-1"][0].EmailVerified == nil {
		t.Errorf("expected a re-arm update, got %+v", dir.updates["id-1"])
	}
}

func TestFieldChangeString(t *testing.T) {
	tests := []struct {
		change FieldChange
		want   string
	}{
		{FieldChange{"email", "a@b.com", "c@d.com"}, "email: a@b.com -> c@d.com"},
		{FieldChange{"hometown", "", "Turku"}, "hometown: (empty) -> Turku"},
		{FieldChange{"discord", "old", ""}, "discord: old -> (empty)"},
	}
	for i, tt := range tests {
		if got := tt.change.String(); got != tt.want {
			t.Errorf("case %d: got %q, want %q", i, got, tt.want)
		}
	}
}

func TestTemporaryPasswordsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p := temporaryPassword()
		if len(p) < 40 {
			t.Fatalf("password unexpectedly short: %d chars", len(p))
		}
		if seen[p] {
			t.Fatal("duplicate temporary password generated")
		}
		seen[p] = true
	}
}

func TestRunReturnsPlanForSummary(t *testing.T) {
	dir := newFakeDirectory()
	rec := New(dir, Options{DryRun: true}, nil)
	var out bytes.Buffer
	rec.SetOutput(&out)

	var records []roster.User
	var accounts []keycloak.User
	for i := 0; i < 3; i++ {
		records = append(records, record(fmt.Sprintf("u-%d", i), fmt.Sprintf("user%d@example.com", i), "", ""))
	}

	plan := rec.Run(context.Background(), records, accounts)
	if len(plan.Creates) != 3 {
		t.Errorf("expected 3 creates, got %d", len(plan.Creates))
	}
}
