package chain

import (
	"strings"
	"testing"

	"submarine/internal/rules"
	"submarine/internal/types"
)

func TestPatternType(t *testing.T) {
	tests := []struct {
		field string
		want  types.EntityType
		ok    bool
	}{
		{"email", types.EntityEmail, true},
		{"emails", types.EntityEmail, true},
		{"contact_e-mail", types.EntityEmail, true},
		{"phone", types.EntityPhone, true},
		{"mobile_number", types.EntityPhone, true},
		{"username", types.EntityUsername, true},
		{"login", types.EntityUsername, true},
		{"website", types.EntityDomain, true},
		{"website_url", types.EntityDomain, true},
		{"full_name", types.EntityPerson, true},
		{"person_name", types.EntityPerson, true},
		{"company_number", "", false},
		{"registrant_org", "", false},
	}
	for _, tt := range tests {
		got, ok := patternType(tt.field)
		if ok != tt.ok || got != tt.want {
			t.Errorf("patternType(%q) = (%q, %v), want (%q, %v)", tt.field, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractRelated(t *testing.T) {
	data := map[string]any{
		"website":        "meridian-shipping.com",
		"full_name":      "Viktor Marlowe",
		"emails":         []any{"ops@meridian-shipping.com", 42, "crew@meridian-shipping.com"},
		"phone":          "+507 123 4567",
		"username":       "ab", // too short to carry identity
		"company_number": "PA-44812",
	}

	related, warns := extractRelated(data)

	// Keys are scanned in sorted order, so discovery order is stable.
	want := []relatedEntity{
		{value: "ops@meridian-shipping.com", entityType: types.EntityEmail, field: "emails"},
		{value: "crew@meridian-shipping.com", entityType: types.EntityEmail, field: "emails"},
		{value: "Viktor Marlowe", entityType: types.EntityPerson, field: "full_name"},
		{value: "+507 123 4567", entityType: types.EntityPhone, field: "phone"},
		{value: "meridian-shipping.com", entityType: types.EntityDomain, field: "website"},
	}
	if len(related) != len(want) {
		t.Fatalf("got %d related entities, want %d: %+v", len(related), len(want), related)
	}
	for i := range want {
		if related[i] != want[i] {
			t.Errorf("related[%d] = %+v, want %+v", i, related[i], want[i])
		}
	}

	if len(warns) != 1 || !strings.Contains(warns[0], "skipping int list member") {
		t.Errorf("warns = %v, want one warning about the int list member", warns)
	}
}

func TestExtractRelatedShapes(t *testing.T) {
	if related, warns := extractRelated(nil); related != nil || warns != nil {
		t.Errorf("empty payload: got (%v, %v), want (nil, nil)", related, warns)
	}

	related, warns := extractRelated(map[string]any{
		"email": map[string]any{"value": "x@y.io"},
	})
	if len(related) != 0 {
		t.Errorf("object-shaped field should not yield entities, got %+v", related)
	}
	if len(warns) != 1 || !strings.Contains(warns[0], "unsupported value shape") {
		t.Errorf("warns = %v, want one unsupported-shape warning", warns)
	}
}

func TestMakeDedupKey(t *testing.T) {
	if got := makeDedupKey("  Ops@Meridian.COM ", nil); got != "ops@meridian.com" {
		t.Errorf("scalar key = %q, want %q", got, "ops@meridian.com")
	}
	if got := makeDedupKey(42, nil); got != "42" {
		t.Errorf("numeric key = %q, want %q", got, "42")
	}

	dict := map[string]any{"name": "Viktor", "dob": "1978"}
	if got := makeDedupKey(dict, []string{"name", "dob"}); got != "viktor|1978" {
		t.Errorf("dict key = %q, want %q", got, "viktor|1978")
	}
	if got := makeDedupKey(map[string]any{"name": "Viktor"}, []string{"name", "dob"}); got != "viktor|" {
		t.Errorf("dict key with missing field = %q, want %q", got, "viktor|")
	}
}

func TestNormalizeHolderType(t *testing.T) {
	tests := []struct {
		tag, name string
		want      string
	}{
		{"individual", "Azure Maritime Ltd", "person"}, // explicit tag wins
		{"corporate", "Viktor Marlowe", "company"},
		{"LEGAL_ENTITY", "x", "company"},
		{"", "Azure Maritime Ltd", "company"},
		{"", "Crestline Trust", "company"},
		{"", "Meridian Holdings SA", "company"},
		{"", "Viktor Marlowe", "person"},
		{"", "Marlowe, Viktor", "person"},
		{"", "", "person"},
	}
	for _, tt := range tests {
		if got := normalizeHolderType(tt.tag, tt.name); got != tt.want {
			t.Errorf("normalizeHolderType(%q, %q) = %q, want %q", tt.tag, tt.name, got, tt.want)
		}
	}
}

func TestCompanyNames(t *testing.T) {
	names, warns := companyNames([]any{
		"Alpha Ltd",
		map[string]any{"company_name": "Beta Ltd"},
		map[string]any{"name": "Gamma Ltd", "role": "subsidiary"},
		map[string]any{"role": "director"},
		42,
	})

	want := []string{"Alpha Ltd", "Beta Ltd", "Gamma Ltd"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if len(warns) != 2 {
		t.Errorf("warns = %v, want two warnings", warns)
	}

	solo, _ := companyNames("Solo Ltd")
	if len(solo) != 1 || solo[0] != "Solo Ltd" {
		t.Errorf("bare string = %v, want [Solo Ltd]", solo)
	}
}

func TestRegistrantOrg(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{
			"nested registrant object",
			map[string]any{"registrant": map[string]any{"organization": "Zenith Holdings SA"}},
			"Zenith Holdings SA",
		},
		{
			"organisation preferred over name",
			map[string]any{"registrant": map[string]any{"name": "J Doe", "organization": "Zenith Holdings SA"}},
			"Zenith Holdings SA",
		},
		{
			"flat registrant_org",
			map[string]any{"registrant_org": "Zenith Holdings SA"},
			"Zenith Holdings SA",
		},
		{
			"bare registrant string",
			map[string]any{"registrant": "Zenith Holdings SA"},
			"Zenith Holdings SA",
		},
		{
			"nothing usable",
			map[string]any{"status": "private"},
			"",
		},
	}
	for _, tt := range tests {
		if got := registrantOrg(tt.data); got != tt.want {
			t.Errorf("%s: registrantOrg = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRegistrantName(t *testing.T) {
	data := map[string]any{
		"registrant": map[string]any{"name": "Viktor K Marlowe", "organization": "Marlowe Consulting"},
	}
	if got := registrantName(data); got != "Viktor K Marlowe" {
		t.Errorf("registrantName = %q, want the personal name over the organisation", got)
	}
	if got := registrantName(map[string]any{"owner": "Viktor"}); got != "Viktor" {
		t.Errorf("registrantName = %q, want %q", got, "Viktor")
	}
}

func TestBreachPayload(t *testing.T) {
	entries := []any{map[string]any{"email": "a@x.io"}}
	if got := breachPayload(map[string]any{"entries": entries}, rules.Step{}, nil); got == nil {
		t.Error("list field should be returned")
	}

	single := map[string]any{"email": "a@x.io", "password": "hunter2"}
	got := breachPayload(single, rules.Step{}, nil)
	if m, ok := got.(map[string]any); !ok || m["email"] != "a@x.io" {
		t.Errorf("single-account payload = %v, want the payload itself", got)
	}

	if got := breachPayload(map[string]any{"note": "none"}, rules.Step{}, nil); got != nil {
		t.Errorf("payload without accounts = %v, want nil", got)
	}
}
