package data

import "net"

// Country is the country-level geolocation of an IP address.
type Country struct {
	ISOCode       string
	Name          string
	IsEU          bool
	ContinentCode string
	ContinentName string
}

// CountryLookup defines the interface for IP-to-country lookups.
type CountryLookup interface {
	// LookupCountry returns the country the given IP address is located in.
	// Returns an error if the lookup fails or the IP cannot be resolved.
	LookupCountry(ip net.IP) (Country, error)

	// Close releases any resources held by the lookup implementation.
	Close() error
}
