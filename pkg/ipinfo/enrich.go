package ipinfo

import (
	"fmt"
	"strings"
)

// Enricher adds derived fields to a freshly fetched record before it is cached.
// fields is a private copy and may be modified in place.
type Enricher interface {
	Enrich(ip string, fields map[string]any)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ip string, fields map[string]any)

// Enrich calls f(ip, fields).
func (f EnricherFunc) Enrich(ip string, fields map[string]any) { f(ip, fields) }

// Enrichers chains enrichers in order, skipping nils.
func Enrichers(es ...Enricher) Enricher {
	return EnricherFunc(func(ip string, fields map[string]any) {
		for _, e := range es {
			if e != nil {
				e.Enrich(ip, fields)
			}
		}
	})
}

const flagURLBase = "https://cdn.ipinfo.io/static/images/countries-flags/"

var euCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "HR": {}, "CY": {}, "CZ": {}, "DK": {},
	"EE": {}, "FI": {}, "FR": {}, "DE": {}, "GR": {}, "HU": {}, "IE": {},
	"IT": {}, "LV": {}, "LT": {}, "LU": {}, "MT": {}, "NL": {}, "PL": {},
	"PT": {}, "RO": {}, "SK": {}, "SI": {}, "ES": {}, "SE": {},
}

// FlagEnricher adds country_flag, country_flag_url and is_eu derived from the
// two-letter country code. Records without a valid code are left alone, and
// an is_eu set by an earlier enricher is kept.
var FlagEnricher Enricher = EnricherFunc(func(_ string, fields map[string]any) {
	code, _ := fields["country"].(string)
	code = strings.ToUpper(code)
	if !isCountryCode(code) {
		return
	}
	emoji, unicode := flag(code)
	fields["country_flag"] = map[string]any{"emoji": emoji, "unicode": unicode}
	fields["country_flag_url"] = flagURLBase + code + ".svg"
	_, eu := euCountries[code]
	setDefault(fields, "is_eu", eu)
})

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// flag maps each letter to its regional indicator symbol.
func flag(code string) (emoji, unicode string) {
	var b strings.Builder
	points := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		r := rune(0x1F1E6 + int(code[i]-'A'))
		b.WriteRune(r)
		points = append(points, fmt.Sprintf("U+%X", r))
	}
	return b.String(), strings.Join(points, " ")
}
