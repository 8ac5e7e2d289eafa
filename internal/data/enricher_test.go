package data

import (
	"fmt"
	"net"
	"testing"
)

// mockLookup implements CountryLookup for testing.
type mockLookup struct {
	country Country
	err     error
}

func (m *mockLookup) LookupCountry(_ net.IP) (Country, error) {
	return m.country, m.err
}

func (m *mockLookup) Close() error {
	return nil
}

var germany = Country{
	ISOCode:       "DE",
	Name:          "Germany",
	IsEU:          true,
	ContinentCode: "EU",
	ContinentName: "Europe",
}

func TestCountryEnricher_AddsFields(t *testing.T) {
	e := NewCountryEnricher(&mockLookup{country: germany})

	fields := map[string]any{"ip": "5.9.0.1", "country": "DE"}
	e.Enrich("5.9.0.1", fields)

	if fields["country_name"] != "Germany" {
		t.Errorf("expected country_name Germany, got %v", fields["country_name"])
	}
	if fields["is_eu"] != true {
		t.Errorf("expected is_eu true, got %v", fields["is_eu"])
	}
	continent, ok := fields["continent"].(map[string]any)
	if !ok {
		t.Fatalf("expected continent object, got %T", fields["continent"])
	}
	if continent["code"] != "EU" || continent["name"] != "Europe" {
		t.Errorf("unexpected continent %v", continent)
	}
}

func TestCountryEnricher_FillsMissingCountry(t *testing.T) {
	e := NewCountryEnricher(&mockLookup{country: germany})

	fields := map[string]any{"ip": "5.9.0.1"}
	e.Enrich("5.9.0.1", fields)

	if fields["country"] != "DE" {
		t.Errorf("expected country DE, got %v", fields["country"])
	}
}

func TestCountryEnricher_LeavesRecordAlone(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		fields map[string]any
		lookup *mockLookup
	}{
		{
			name:   "country mismatch",
			ip:     "5.9.0.1",
			fields: map[string]any{"country": "US"},
			lookup: &mockLookup{country: germany},
		},
		{
			name:   "lookup error",
			ip:     "5.9.0.1",
			fields: map[string]any{"country": "DE"},
			lookup: &mockLookup{err: fmt.Errorf("db failure")},
		},
		{
			name:   "invalid IP",
			ip:     "not-an-ip",
			fields: map[string]any{"country": "DE"},
			lookup: &mockLookup{country: germany},
		},
		{
			name:   "unknown country",
			ip:     "5.9.0.1",
			fields: map[string]any{"country": "DE"},
			lookup: &mockLookup{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NewCountryEnricher(tt.lookup).Enrich(tt.ip, tt.fields)

			if len(tt.fields) != 1 {
				t.Errorf("expected record to be unchanged, got %v", tt.fields)
			}
		})
	}
}
