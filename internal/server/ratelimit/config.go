package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Tier is a named limiter applied to a class of requests. Buckets are keyed
// by client IP.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Key returns the bucket key of a client in this tier.
func (t *Tier) Key(clientIP string) string {
	return "ip:" + clientIP + ":" + t.Name
}

// Config holds the limiters of the server. A nil Config limits nothing.
type Config struct {
	Save *Tier
}

// NewConfig limits saves to perMinute per client with burst capacity.
// perMinute <= 0 disables limiting.
func NewConfig(perMinute, burst int) *Config {
	c := &Config{}
	if perMinute > 0 {
		c.Save = &Tier{Name: "save", Limiter: NewLimiter(perMinute, time.Minute, burst)}
	}
	return c
}

// Match returns the tier applying to a request, or nil.
func (c *Config) Match(method, path string) *Tier {
	if c == nil {
		return nil
	}
	if method == http.MethodPost && strings.HasPrefix(path, "/api/save/") {
		return c.Save
	}
	return nil
}

// Close stops every limiter.
func (c *Config) Close() {
	if c == nil {
		return
	}
	if c.Save != nil {
		c.Save.Limiter.Close()
	}
}
