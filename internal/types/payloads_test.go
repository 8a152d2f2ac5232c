package types

import (
	"reflect"
	"testing"
)

func TestAsStringList(t *testing.T) {
	t.Run("scalar string", func(t *testing.T) {
		got, warns := AsStringList("ACME Holdings Ltd")
		if want := []string{"ACME Holdings Ltd"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %#v, want %#v", got, want)
		}
		if len(warns) != 0 {
			t.Fatalf("unexpected warnings: %v", warns)
		}
	})

	t.Run("mixed list", func(t *testing.T) {
		got, warns := AsStringList([]any{
			"plain",
			map[string]any{"name": "from object"},
			map[string]any{"other": "ignored"},
			42,
		})
		if want := []string{"plain", "from object"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %#v, want %#v", got, want)
		}
		if len(warns) != 2 {
			t.Fatalf("want 2 warnings, got %v", warns)
		}
	})

	t.Run("nil", func(t *testing.T) {
		got, warns := AsStringList(nil)
		if got != nil || warns != nil {
			t.Fatalf("got %#v / %#v, want nil / nil", got, warns)
		}
	})
}

func TestDecodeShareholders(t *testing.T) {
	payload := []any{
		map[string]any{"name": "ACME Holdings Ltd", "ownership_pct": 51.0, "type": "corporate"},
		map[string]any{"name": "Jane Smith", "percentage": "25%"},
		map[string]any{"ownership_pct": 10.0}, // no name: skipped with warning
	}
	got, warns := DecodeShareholders(payload)
	want := []ShareholderRecord{
		{Name: "ACME Holdings Ltd", OwnershipPct: 51, Type: "corporate"},
		{Name: "Jane Smith", OwnershipPct: 25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
	if len(warns) != 1 {
		t.Fatalf("want 1 warning, got %v", warns)
	}
}

func TestDecodeOfficersToleratesStrings(t *testing.T) {
	// Registries sometimes return officers as bare names.
	got, _ := DecodeOfficers([]any{"John Smith", map[string]any{"name": "Maria Rossi", "role": "director"}})
	want := []OfficerRecord{
		{Name: "John Smith"},
		{Name: "Maria Rossi", Role: "director"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestDecodeBreachAccounts(t *testing.T) {
	payload := []any{
		map[string]any{"email": "a@example.com", "password": "hunter2", "database_name": "collection1"},
		map[string]any{"username": "jdoe", "hash": "5f4dcc3b"},
		map[string]any{"password": "orphaned"}, // no identity: skipped
	}
	got, warns := DecodeBreachAccounts(payload)
	if len(got) != 2 {
		t.Fatalf("want 2 accounts, got %d (%#v)", len(got), got)
	}
	if got[0].BreachSource != "collection1" {
		t.Fatalf("breach source = %q, want %q", got[0].BreachSource, "collection1")
	}
	if got[1].PasswordHash != "5f4dcc3b" {
		t.Fatalf("password hash = %q", got[1].PasswordHash)
	}
	if len(warns) != 1 {
		t.Fatalf("want 1 warning, got %v", warns)
	}
}

func TestDecodeMediaItems(t *testing.T) {
	payload := []any{
		map[string]any{"title": "Probe widens", "url": "https://news.example/1", "publisher": "Example News"},
		map[string]any{"link": "https://news.example/2"},
		map[string]any{"date": "2024-01-01"}, // neither title nor url
	}
	got, warns := DecodeMediaItems(payload)
	if len(got) != 2 {
		t.Fatalf("want 2 items, got %d", len(got))
	}
	if got[0].Source != "Example News" {
		t.Fatalf("source = %q", got[0].Source)
	}
	if len(warns) != 1 {
		t.Fatalf("want 1 warning, got %v", warns)
	}
}

func TestDecodeHoldingsPercentStrings(t *testing.T) {
	got, _ := DecodeHoldings([]any{
		map[string]any{"name": "Subsidiary GmbH", "stake": "12.5", "country": "DE"},
	})
	want := []HoldingRecord{{Name: "Subsidiary GmbH", OwnershipPct: 12.5, Jurisdiction: "DE"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}
