package store

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// ErrCookieDomain is returned for cookies without a domain.
var ErrCookieDomain = errors.New("store: cookie has no domain")

// AddCookie stores c under its domain, replacing a cookie of the same name.
func (s *Stores) AddCookie(c Cookie) error {
	domain := c.Options.Domain
	if domain == "" {
		return ErrCookieDomain
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.Cookies.Get())
	if next == nil {
		next = Cookies{}
	}
	list := slices.DeleteFunc(slices.Clone(next[domain]), func(old Cookie) bool { return old.Name == c.Name })
	next[domain] = append(list, c)
	if err := ValidateCookies(next); err != nil {
		return err
	}
	s.Cookies.Set(next)
	return nil
}

// CookieHeader builds a Cookie header value for host from every stored
// domain that host ends with. It returns "" when nothing matches.
func (s *Stores) CookieHeader(host string) string {
	all := s.Cookies.Get()
	domains := make([]string, 0, len(all))
	for d := range all {
		domains = append(domains, d)
	}
	slices.Sort(domains)

	var parts []string
	for _, d := range domains {
		if !strings.HasSuffix(host, strings.TrimPrefix(d, ".")) {
			continue
		}
		for _, c := range all[d] {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; ")
}
