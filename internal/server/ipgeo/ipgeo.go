// Package ipgeo resolves client addresses to countries for the access log,
// using a MaxMind MMDB file.
package ipgeo

import (
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"
)

// Local is reported for addresses that cannot be geolocated because they never
// leave the local network.
const Local = "local"

// Checker resolves IP addresses to ISO 3166-1 alpha-2 country codes. A nil
// Checker only classifies local addresses.
type Checker struct {
	reader *maxminddb.Reader
}

// Open opens an MMDB file.
func Open(path string) (*Checker, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Checker{reader: r}, nil
}

// Close releases the MMDB reader.
func (c *Checker) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// CountryCode returns the country of ip, Local for loopback, private,
// link-local and unspecified addresses, and "" when unknown.
func (c *Checker) CountryCode(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return Local
	}
	if c == nil || c.reader == nil {
		return ""
	}
	var rec countryRecord
	if err := c.reader.Lookup(addr).Decode(&rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}
