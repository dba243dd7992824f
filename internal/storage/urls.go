package storage

import (
	"net/url"
	"sort"
	"strings"
)

// CleanURL strips the query string and fragment from raw. Unparseable
// input is cut at the first '?' or '#'.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Host returns the hostname of raw without a leading "www.".
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DefaultDenyProtocols are schemes that never produce sessions.
func DefaultDenyProtocols() []string {
	return []string{"chrome", "chrome-extension", "moz-extension", "about", "devtools", "edge"}
}

// DefaultDenyHosts are hosts that never produce sessions.
func DefaultDenyHosts() []string {
	return []string{"localhost", "127.0.0.1", "newtab"}
}

// URLPolicy decides which URLs are recorded.
type URLPolicy struct {
	protocols map[string]bool
	hosts     map[string]bool
}

// NewURLPolicy builds a policy from scheme and host denylists. Hosts match
// exactly or as a parent domain.
func NewURLPolicy(protocols, hosts []string) *URLPolicy {
	p := &URLPolicy{protocols: map[string]bool{}, hosts: map[string]bool{}}
	for _, s := range protocols {
		p.protocols[strings.TrimSuffix(strings.ToLower(s), ":")] = true
	}
	for _, h := range hosts {
		p.hosts[strings.TrimPrefix(strings.ToLower(h), "www.")] = true
	}
	return p
}

// DefaultURLPolicy uses DefaultDenyProtocols and DefaultDenyHosts.
func DefaultURLPolicy() *URLPolicy {
	return NewURLPolicy(DefaultDenyProtocols(), DefaultDenyHosts())
}

// ShouldIndex reports whether raw should be recorded as a session.
func (p *URLPolicy) ShouldIndex(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	if p.protocols[strings.ToLower(u.Scheme)] {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for host != "" {
		if p.hosts[host] {
			return false
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return true
}

// StopHosts returns the denylisted hosts. Search excludes them.
func (p *URLPolicy) StopHosts() []string {
	hosts := make([]string, 0, len(p.hosts))
	for h := range p.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
