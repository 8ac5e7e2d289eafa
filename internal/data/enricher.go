package data

import (
	"log/slog"
	"net"
)

// CountryEnricher adds country_name, is_eu and continent to fetched records
// from a local country database.
type CountryEnricher struct {
	lookup CountryLookup
}

// NewCountryEnricher returns an enricher backed by lookup.
func NewCountryEnricher(lookup CountryLookup) *CountryEnricher {
	return &CountryEnricher{lookup: lookup}
}

// Enrich implements ipinfo.Enricher. Records whose country disagrees with the
// local database are left unchanged.
func (e *CountryEnricher) Enrich(ip string, fields map[string]any) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return
	}
	country, err := e.lookup.LookupCountry(parsed)
	if err != nil {
		slog.Debug("country enrichment skipped", "ip", ip, "error", err)
		return
	}
	if country.ISOCode == "" {
		return
	}

	code, _ := fields["country"].(string)
	if code == "" {
		fields["country"] = country.ISOCode
	} else if code != country.ISOCode {
		return
	}

	if country.Name != "" {
		fields["country_name"] = country.Name
	}
	fields["is_eu"] = country.IsEU
	if country.ContinentCode != "" {
		fields["continent"] = map[string]any{
			"code": country.ContinentCode,
			"name": country.ContinentName,
		}
	}
}
