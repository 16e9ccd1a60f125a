// Package origin checks browser Origin headers against an allow-list.
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize canonicalizes an Origin header value to scheme://host[:port].
//
// Scheme and host are lower-cased and default ports are dropped, so
// "HTTPS://Example.COM:443" and "https://example.com" compare equal. The
// opaque origin "null" is returned unchanged.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}
	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	} else if strings.HasSuffix(u.Host, ":") {
		return "", false
	}

	host := hostname
	if port != "" {
		host = net.JoinHostPort(hostname, port)
	} else if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	return scheme + "://" + host, true
}

// Policy is an Origin allow-list. The zero value and a Policy built from an
// empty list accept every origin.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from configured entries. Each entry is either
// "*" or an origin accepted by Normalize.
func NewPolicy(entries []string) (*Policy, error) {
	p := &Policy{allowed: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == "*" {
			p.any = true
			continue
		}
		n, ok := Normalize(e)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q", e)
		}
		p.allowed[n] = struct{}{}
	}
	if len(p.allowed) == 0 {
		p.any = true
	}
	return p, nil
}

// Allows reports whether a request carrying the given Origin header may
// connect. Requests without an Origin header come from non-browser clients
// and are always allowed.
func (p *Policy) Allows(header string) bool {
	if p == nil || p.any {
		return true
	}
	if strings.TrimSpace(header) == "" {
		return true
	}
	n, ok := Normalize(header)
	if !ok {
		return false
	}
	_, ok = p.allowed[n]
	return ok
}
