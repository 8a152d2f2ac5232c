package chain

import (
	"fmt"
	"sort"
	"strings"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// fallbackChains lists the rule IDs tried for a bare entity lookup, in
// order. The first success wins; a type with no chain cannot be expanded.
var fallbackChains = map[types.EntityType][]string{
	types.EntityEmail:    {"OSINT_FROM_EMAIL", "DEHASHED_FROM_EMAIL", "OSINT_INDUSTRIES_FROM_EMAIL"},
	types.EntityUsername: {"OSINT_FROM_USERNAME", "DEHASHED_FROM_USERNAME"},
	types.EntityPerson:   {"OSINT_FROM_PERSON", "OSINT_INDUSTRIES_FROM_NAME"},
	types.EntityDomain:   {"WHOIS_FROM_DOMAIN", "DOMAIN_LOOKUP"},
	types.EntityPhone:    {"OSINT_FROM_PHONE", "OSINT_INDUSTRIES_FROM_PHONE"},
	types.EntityCompany:  {"OPENCORPORATES_SEARCH", "COMPANY_LOOKUP"},
}

// relatedPatterns maps payload field-name fragments to the entity type the
// field carries. Scanned in order; a field feeds at most one type, so the
// more specific fragments come before "name".
var relatedPatterns = []struct {
	entityType types.EntityType
	fragments  []string
}{
	{types.EntityEmail, []string{"email", "e-mail", "mail"}},
	{types.EntityPhone, []string{"phone", "mobile", "telephone", "cell"}},
	{types.EntityUsername, []string{"username", "user", "login", "handle"}},
	{types.EntityDomain, []string{"domain", "website", "url"}},
	{types.EntityPerson, []string{"name", "full_name", "person_name"}},
}

func patternType(field string) (types.EntityType, bool) {
	f := strings.ToLower(field)
	for _, p := range relatedPatterns {
		for _, fragment := range p.fragments {
			if strings.Contains(f, fragment) {
				return p.entityType, true
			}
		}
	}
	return "", false
}

// relatedEntity is one value pulled out of a rule payload.
type relatedEntity struct {
	value      string
	entityType types.EntityType
	field      string
}

// extractRelated pulls related entity values out of a rule payload using the
// field patterns above. Keys are scanned in sorted order so discovery order
// is stable. Values shorter than 3 runes carry no identity and are dropped.
func extractRelated(data map[string]any) ([]relatedEntity, []string) {
	if len(data) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []relatedEntity
	var warns []string
	for _, k := range keys {
		entityType, ok := patternType(k)
		if !ok {
			continue
		}
		values, fieldWarns := relatedValues(data[k])
		for _, w := range fieldWarns {
			warns = append(warns, fmt.Sprintf("field %s: %s", k, w))
		}
		for _, v := range values {
			if len(v) < 3 {
				continue
			}
			out = append(out, relatedEntity{value: v, entityType: entityType, field: k})
		}
	}
	return out, warns
}

// relatedValues accepts a bare string or a list of strings. Any other shape
// inside a related field is reported, not guessed at.
func relatedValues(v any) ([]string, []string) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case []string:
		var out []string
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []any:
		var out []string
		var warns []string
		for _, el := range x {
			s, ok := el.(string)
			if !ok {
				warns = append(warns, fmt.Sprintf("skipping %T list member", el))
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, warns
	default:
		return nil, []string{fmt.Sprintf("unsupported value shape %T", v)}
	}
}

// makeDedupKey builds the duplicate-suppression key for a payload value.
// Dict values join the configured fields; scalars lower-trim.
func makeDedupKey(value any, fields []string) string {
	if m, ok := value.(map[string]any); ok && len(fields) > 0 {
		parts := make([]string, len(fields))
		for i, f := range fields {
			if v, present := m[f]; present {
				parts[i] = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
			}
		}
		return strings.Join(parts, "|")
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
}

// payloadValue picks the payload field a step's decode should read: the
// step's declared output fields first, then the conventional names.
func payloadValue(data map[string]any, step rules.Step, reg *rules.Registry, conventional ...string) any {
	if reg != nil {
		for _, f := range reg.FieldNames(step.OutputFields) {
			if v, ok := data[f]; ok {
				return v
			}
		}
	}
	for _, f := range conventional {
		if v, ok := data[f]; ok {
			return v
		}
	}
	return nil
}

// stringField returns the first non-empty string under any of the keys.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// companyNames flattens a payload that may list bare names or appointment
// objects.
func companyNames(v any) ([]string, []string) {
	list, ok := v.([]any)
	if !ok {
		return types.AsStringList(v)
	}
	var out []string
	var warns []string
	for _, el := range list {
		switch t := el.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if s := stringField(t, "company_name", "company", "name", "title"); s != "" {
				out = append(out, s)
			} else {
				warns = append(warns, "appointment object without a company name")
			}
		default:
			warns = append(warns, fmt.Sprintf("skipping %T list member", el))
		}
	}
	return out, warns
}

// corpSuffixes mark a holder name as a legal entity when the payload carries
// no explicit type.
var corpSuffixes = []string{
	"ltd", "limited", "llc", "llp", "inc", "corp", "corporation", "plc",
	"gmbh", "ag", "sa", "sarl", "srl", "spa", "bv", "nv", "oy", "ab", "as",
	"holdings", "holding", "group", "partners", "capital", "ventures",
	"trust", "foundation", "fund",
}

// normalizeHolderType maps a shareholder type tag to "person" or "company",
// guessing from the name's suffix when the tag is absent.
func normalizeHolderType(tag, name string) string {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "person", "individual", "natural", "natural_person":
		return "person"
	case "company", "corporate", "legal", "legal_entity", "organisation", "organization":
		return "company"
	}
	fields := strings.Fields(strings.ToLower(strings.Trim(name, " .,")))
	for _, f := range fields {
		f = strings.Trim(f, ".,()")
		for _, suffix := range corpSuffixes {
			if f == suffix {
				return "company"
			}
		}
	}
	return "person"
}

// registrantOrg pulls the registrant organisation out of a WHOIS payload,
// checking a nested registrant object first.
func registrantOrg(data map[string]any) string {
	if m, ok := data["registrant"].(map[string]any); ok {
		if s := stringField(m, "organization", "organisation", "org", "company", "name"); s != "" {
			return s
		}
	}
	return stringField(data,
		"registrant_org", "registrant_organization", "organization", "organisation",
		"org", "company", "company_name", "registrant")
}

// registrantName pulls the registrant's personal or legal name out of a
// WHOIS payload. Names win over organisations here.
func registrantName(data map[string]any) string {
	if m, ok := data["registrant"].(map[string]any); ok {
		if s := stringField(m, "name", "registrant_name", "organization", "org"); s != "" {
			return s
		}
	}
	return stringField(data,
		"registrant_name", "registrant", "owner", "owner_name",
		"registrant_org", "organization", "org", "name")
}

// breachPayload locates the account list inside a breach rule payload. When
// no list field is present the payload itself may be a single account.
func breachPayload(data map[string]any, step rules.Step, reg *rules.Registry) any {
	if v := payloadValue(data, step, reg, "entries", "results", "accounts", "breaches", "credentials"); v != nil {
		return v
	}
	if stringField(data, "email", "username", "password") != "" {
		return data
	}
	return nil
}
