// Package geoip resolves IP addresses to countries for event enrichment.
// The GeoLite2 database is optional; a missing file only disables lookups.
package geoip

import (
	"log/slog"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"

	"insightcore/internal/config"
)

// Resolver wraps the GeoLite2 country database together with the country
// name registry. A nil-reader Resolver is valid and resolves nothing.
type Resolver struct {
	reader    *geoip2.Reader
	countries *gountries.Query
	logger    *slog.Logger
}

// Open loads the GeoLite2 database configured in cfg. It never fails hard:
// when the database is absent or unreadable the returned resolver simply
// answers no lookups.
func Open(cfg *config.Config, logger *slog.Logger) *Resolver {
	r := &Resolver{countries: gountries.New(), logger: logger}
	if cfg.GeoDBPath == "" {
		logger.Debug("GeoIP database path not configured, country enrichment disabled")
		return r
	}
	if _, err := os.Stat(cfg.GeoDBPath); err != nil {
		logger.Info("GeoLite2 database not found, country enrichment disabled",
			slog.String("path", cfg.GeoDBPath),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return r
	}
	reader, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return r
	}
	logger.Info("GeoLite2 database initialized", slog.String("path", cfg.GeoDBPath))
	r.reader = reader
	return r
}

// Enabled reports whether lookups can succeed.
func (r *Resolver) Enabled() bool {
	return r != nil && r.reader != nil
}

// Country resolves the ISO code and common country name for an IP address.
func (r *Resolver) Country(ipAddress string) (code, name string, ok bool) {
	if !r.Enabled() || ipAddress == "" {
		return "", "", false
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return "", "", false
	}
	record, err := r.reader.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return "", "", false
	}
	code = record.Country.IsoCode
	if country, err := r.countries.FindCountryByAlpha(code); err == nil {
		name = country.Name.Common
	} else {
		name = record.Country.Names["en"]
	}
	return code, name, true
}

// Close releases the underlying database handle.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
