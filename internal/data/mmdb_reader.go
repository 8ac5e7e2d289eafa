package data

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MmdbReader implements CountryLookup using a MaxMind Country or City MMDB file.
type MmdbReader struct {
	db   countryReader
	lang string
}

// countryReader is the part of *geoip2.Reader used by MmdbReader.
type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// NewMmdbReader opens the MMDB file at the given path and returns a reader
// that reports English names.
func NewMmdbReader(path string) (*MmdbReader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MMDB file: %w", err)
	}
	return &MmdbReader{db: db, lang: "en"}, nil
}

// LookupCountry returns the country record for the given IP address.
func (r *MmdbReader) LookupCountry(ip net.IP) (Country, error) {
	record, err := r.db.Country(ip)
	if err != nil {
		return Country{}, fmt.Errorf("country lookup failed: %w", err)
	}
	return Country{
		ISOCode:       record.Country.IsoCode,
		Name:          record.Country.Names[r.lang],
		IsEU:          record.Country.IsInEuropeanUnion,
		ContinentCode: record.Continent.Code,
		ContinentName: record.Continent.Names[r.lang],
	}, nil
}

// Close releases the MMDB reader resources.
func (r *MmdbReader) Close() error {
	return r.db.Close()
}
