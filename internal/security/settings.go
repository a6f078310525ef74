package security

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"lexflow.io/internal/obs"
)

// Keys of the security_settings table.
const (
	KeyRateLimitPerMinute = "rate_limit_per_minute"
	KeyRateLimitBurst     = "rate_limit_burst"
	KeySessionTimeout     = "session_timeout_minutes"
	KeyMaxBodyBytes       = "max_body_bytes"
	KeyIPAllowlist        = "ip_allowlist"
)

// Settings are the request guard parameters assembled at start-up.
type Settings struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	SessionTimeout     time.Duration
	MaxBodyBytes       int64
	IPAllowlist        []netip.Prefix
}

// Defaults apply to every key missing from the table.
func Defaults() Settings {
	return Settings{
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
		SessionTimeout:     480 * time.Minute,
		MaxBodyBytes:       1 << 20,
	}
}

// Source reads the raw key/value rows.
type Source interface {
	SecuritySettings(ctx context.Context) (map[string]string, error)
}

// Load reads the settings from src. A failing source yields the defaults.
func Load(ctx context.Context, src Source) Settings {
	values, err := src.SecuritySettings(ctx)
	if err != nil {
		obs.Warn("security settings unavailable, using defaults", map[string]any{"error": err.Error()})
		return Defaults()
	}
	s, errs := FromValues(values)
	for _, err := range errs {
		obs.Warn("ignoring security setting", map[string]any{"error": err.Error()})
	}
	return s
}

// FromValues overlays values on the defaults. Invalid values keep the
// default and are reported.
func FromValues(values map[string]string) (Settings, []error) {
	s := Defaults()
	var errs []error
	positive := func(key string, apply func(int64)) {
		raw, ok := values[key]
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid value %q", key, raw))
			return
		}
		apply(n)
	}
	positive(KeyRateLimitPerMinute, func(n int64) { s.RateLimitPerMinute = int(n) })
	positive(KeyRateLimitBurst, func(n int64) { s.RateLimitBurst = int(n) })
	positive(KeySessionTimeout, func(n int64) { s.SessionTimeout = time.Duration(n) * time.Minute })
	positive(KeyMaxBodyBytes, func(n int64) { s.MaxBodyBytes = n })

	if raw := strings.TrimSpace(values[KeyIPAllowlist]); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			prefix, err := parsePrefix(part)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", KeyIPAllowlist, err))
				continue
			}
			s.IPAllowlist = append(s.IPAllowlist, prefix)
		}
	}
	return s, errs
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// AllowsIP reports whether ip may call the API. An empty allowlist admits
// everyone; unparseable addresses are rejected when a list is set.
func (s Settings) AllowsIP(ip string) bool {
	if len(s.IPAllowlist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.IPAllowlist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// PerSecond converts the per-minute budget for token bucket limiters.
func (s Settings) PerSecond() float64 {
	return float64(s.RateLimitPerMinute) / 60
}
