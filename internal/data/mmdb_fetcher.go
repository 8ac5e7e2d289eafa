package data

import (
	"context"
	"fmt"
	"net"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/oschwald/maxminddb-golang"
)

// MmdbFetcher resolves batches from a local MMDB file instead of the remote API.
// Entries are decoded generically, so any database layout (IPinfo Lite,
// GeoLite2, ...) yields records with the database's own field names.
type MmdbFetcher struct {
	db     networkReader
	dbType string
}

// networkReader is the part of *maxminddb.Reader used by MmdbFetcher.
type networkReader interface {
	LookupNetwork(ip net.IP, result any) (*net.IPNet, bool, error)
	Close() error
}

// NewMmdbFetcher opens the MMDB file at path.
func NewMmdbFetcher(path string) (*MmdbFetcher, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MMDB file: %w", err)
	}
	return &MmdbFetcher{db: db, dbType: db.Metadata.DatabaseType}, nil
}

// DatabaseType reports the type string from the database metadata.
func (f *MmdbFetcher) DatabaseType() string {
	return f.dbType
}

// FetchBatch implements ipinfo.BatchFetcher. Only cancellation fails the whole batch.
func (f *MmdbFetcher) FetchBatch(ctx context.Context, ips []string) (map[string]ipinfo.Result, error) {
	out := make(map[string]ipinfo.Result, len(ips))
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ipinfo.ErrTransport, err)
		}
		out[ip] = f.lookup(ip)
	}
	return out, nil
}

func (f *MmdbFetcher) lookup(ip string) ipinfo.Result {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ipinfo.Failure(ip, "invalid IP address")
	}
	if isBogon(parsed) {
		return ipinfo.Success(ipinfo.NewRecord(ip, map[string]any{"ip": ip, "bogon": true}))
	}

	var fields map[string]any
	_, ok, err := f.db.LookupNetwork(parsed, &fields)
	if err != nil {
		return ipinfo.Failure(ip, err.Error())
	}
	if !ok || len(fields) == 0 {
		return ipinfo.Failure(ip, "no data returned")
	}
	if _, has := fields["ip"]; !has {
		fields["ip"] = ip
	}
	return ipinfo.Success(ipinfo.NewRecord(ip, fields))
}

// Close releases the MMDB reader resources.
func (f *MmdbFetcher) Close() error {
	return f.db.Close()
}

// isBogon reports addresses that are never publicly routed.
func isBogon(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast()
}
