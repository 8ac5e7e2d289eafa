package ipinfo

import (
	_ "embed"
	"strings"
	"sync"
)

//go:embed countries.json
var countriesJSON []byte

// Currency is the official currency of a country.
type Currency struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol"`
}

// Continent identifies the continent a country belongs to.
type Continent struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CountryInfo is the static data kept per ISO-3166 country code.
type CountryInfo struct {
	Name      string    `json:"name"`
	Currency  Currency  `json:"currency"`
	Continent Continent `json:"continent"`
}

var countries = sync.OnceValue(func() map[string]CountryInfo {
	var m map[string]CountryInfo
	if err := json.Unmarshal(countriesJSON, &m); err != nil {
		panic("ipinfo: corrupt embedded country table: " + err.Error())
	}
	return m
})

// LookupCountry returns the static data of a two-letter country code.
func LookupCountry(code string) (CountryInfo, bool) {
	info, ok := countries()[strings.ToUpper(code)]
	return info, ok
}

// CountryDataEnricher adds country_name, country_currency and continent from
// the embedded country table. Fields already present are kept, so an enricher
// with better data can run first.
var CountryDataEnricher Enricher = EnricherFunc(func(_ string, fields map[string]any) {
	code, _ := fields["country"].(string)
	info, ok := LookupCountry(code)
	if !ok {
		return
	}
	setDefault(fields, "country_name", info.Name)
	setDefault(fields, "country_currency", map[string]any{
		"code":   info.Currency.Code,
		"symbol": info.Currency.Symbol,
	})
	setDefault(fields, "continent", map[string]any{
		"code": info.Continent.Code,
		"name": info.Continent.Name,
	})
})

// DefaultEnricher is used by New unless WithEnricher is given.
var DefaultEnricher = Enrichers(CountryDataEnricher, FlagEnricher)

func setDefault(fields map[string]any, key string, v any) {
	if _, ok := fields[key]; !ok {
		fields[key] = v
	}
}
