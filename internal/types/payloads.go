package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule payloads arrive as loosely shaped JSON. The decoders below convert the
// common families into typed records so the chain strategies never index raw
// maps. Decoders collect warnings instead of failing: a malformed element is
// skipped and reported, the rest of the payload still decodes.

// ShareholderRecord is one ownership entry from a corporate registry payload.
type ShareholderRecord struct {
	Name         string  `json:"name"`
	OwnershipPct float64 `json:"ownership_pct"`
	Type         string  `json:"type,omitempty"` // individual | corporate
}

// OfficerRecord is one directorship or officer entry.
type OfficerRecord struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// HoldingRecord is one portfolio holding entry.
type HoldingRecord struct {
	Name         string  `json:"name"`
	OwnershipPct float64 `json:"ownership_pct"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
}

// BreachAccount is one leaked-credential entry from a breach-data payload.
type BreachAccount struct {
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	BreachSource string `json:"breach_source,omitempty"`
}

// MediaItem is one article or mention from a media-search payload.
type MediaItem struct {
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
	Date   string `json:"date,omitempty"`
}

// AsStringList normalizes a payload value that may be a scalar, a list, or a
// list of objects into a flat list of strings. Object elements contribute
// their "name" or "value" field. The second return lists warnings for
// elements that could not be interpreted.
func AsStringList(v any) ([]string, []string) {
	var out []string
	var warns []string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(x); s != "" {
			out = append(out, s)
		}
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for i, el := range x {
			switch e := el.(type) {
			case string:
				if s := strings.TrimSpace(e); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s := firstString(e, "name", "value", "title"); s != "" {
					out = append(out, s)
				} else {
					warns = append(warns, fmt.Sprintf("list element %d: object without name/value field", i))
				}
			default:
				warns = append(warns, fmt.Sprintf("list element %d: unsupported type %T", i, el))
			}
		}
	case map[string]any:
		if s := firstString(x, "name", "value", "title"); s != "" {
			out = append(out, s)
		} else {
			warns = append(warns, "object payload without name/value field")
		}
	default:
		warns = append(warns, fmt.Sprintf("unsupported payload type %T", v))
	}
	return out, warns
}

// DecodeShareholders extracts shareholder records from a rule payload value.
func DecodeShareholders(v any) ([]ShareholderRecord, []string) {
	var out []ShareholderRecord
	var warns []string
	forEachObject(v, &warns, func(m map[string]any) {
		name := firstString(m, "name", "shareholder_name", "shareholder")
		if name == "" {
			warns = append(warns, "shareholder entry without a name")
			return
		}
		out = append(out, ShareholderRecord{
			Name:         name,
			OwnershipPct: asFloat(m["ownership_pct"], m["percentage"], m["share"]),
			Type:         firstString(m, "type", "shareholder_type"),
		})
	})
	return out, warns
}

// DecodeOfficers extracts officer records from a rule payload value.
func DecodeOfficers(v any) ([]OfficerRecord, []string) {
	var out []OfficerRecord
	var warns []string
	forEachObject(v, &warns, func(m map[string]any) {
		name := firstString(m, "name", "officer_name")
		if name == "" {
			warns = append(warns, "officer entry without a name")
			return
		}
		out = append(out, OfficerRecord{
			Name:        name,
			Role:        firstString(m, "role", "position", "officer_role"),
			CompanyName: firstString(m, "company_name", "company"),
		})
	})
	return out, warns
}

// DecodeHoldings extracts portfolio holdings from a rule payload value.
func DecodeHoldings(v any) ([]HoldingRecord, []string) {
	var out []HoldingRecord
	var warns []string
	forEachObject(v, &warns, func(m map[string]any) {
		name := firstString(m, "name", "company_name", "holding")
		if name == "" {
			warns = append(warns, "holding entry without a name")
			return
		}
		out = append(out, HoldingRecord{
			Name:         name,
			OwnershipPct: asFloat(m["ownership_pct"], m["percentage"], m["stake"]),
			Jurisdiction: firstString(m, "jurisdiction", "country"),
		})
	})
	return out, warns
}

// DecodeBreachAccounts extracts breach accounts from a rule payload value.
func DecodeBreachAccounts(v any) ([]BreachAccount, []string) {
	var out []BreachAccount
	var warns []string
	forEachObject(v, &warns, func(m map[string]any) {
		acct := BreachAccount{
			Email:        firstString(m, "email"),
			Username:     firstString(m, "username", "user"),
			Password:     firstString(m, "password"),
			PasswordHash: firstString(m, "password_hash", "hash", "hashed_password"),
			BreachSource: firstString(m, "breach_source", "database_name", "source", "breach"),
		}
		if acct.Email == "" && acct.Username == "" {
			warns = append(warns, "breach entry without email or username")
			return
		}
		out = append(out, acct)
	})
	return out, warns
}

// DecodeMediaItems extracts media mentions from a rule payload value.
func DecodeMediaItems(v any) ([]MediaItem, []string) {
	var out []MediaItem
	var warns []string
	forEachObject(v, &warns, func(m map[string]any) {
		item := MediaItem{
			Title:  firstString(m, "title", "headline", "name"),
			URL:    firstString(m, "url", "link"),
			Source: firstString(m, "source", "publisher", "outlet"),
			Date:   firstString(m, "date", "published_at", "published"),
		}
		if item.Title == "" && item.URL == "" {
			warns = append(warns, "media entry without title or url")
			return
		}
		out = append(out, item)
	})
	return out, warns
}

// forEachObject walks a payload value that should be a list of objects,
// tolerating a bare object, a bare string, or nil.
func forEachObject(v any, warns *[]string, fn func(map[string]any)) {
	switch x := v.(type) {
	case nil:
	case map[string]any:
		fn(x)
	case []any:
		for i, el := range x {
			switch e := el.(type) {
			case map[string]any:
				fn(e)
			case string:
				if s := strings.TrimSpace(e); s != "" {
					fn(map[string]any{"name": s})
				}
			default:
				*warns = append(*warns, fmt.Sprintf("entry %d: unsupported type %T", i, el))
			}
		}
	case string:
		if s := strings.TrimSpace(x); s != "" {
			fn(map[string]any{"name": s})
		}
	default:
		*warns = append(*warns, fmt.Sprintf("unsupported payload type %T", v))
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// asFloat returns the first argument convertible to a float64. Percentage
// strings like "25%" or "25.5" are accepted.
func asFloat(vals ...any) float64 {
	for _, v := range vals {
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		case int64:
			return float64(x)
		case string:
			s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return 0
}
