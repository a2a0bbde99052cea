package mapper

import (
	"maps"
	"net/url"
	"strings"
	"sync"
)

// LearnedStore remembers field values that led to a successful fill, keyed by
// target domain. It lives for the worker process and is safe for concurrent
// use.
type LearnedStore struct {
	mu       sync.RWMutex
	byDomain map[string]map[string]string
}

// NewLearnedStore creates an empty store
func NewLearnedStore() *LearnedStore {
	return &LearnedStore{byDomain: make(map[string]map[string]string)}
}

// Get returns the learned value for a field on a domain.
func (s *LearnedStore) Get(domain, field string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.byDomain[normalizeDomain(domain)]
	if !ok {
		return "", false
	}
	v, ok := fields[field]
	return v, ok
}

// Put merges mappings into the domain's entry.
func (s *LearnedStore) Put(domain string, mappings map[string]string) {
	domain = normalizeDomain(domain)
	if domain == "" || len(mappings) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.byDomain[domain]
	if !ok {
		fields = make(map[string]string, len(mappings))
		s.byDomain[domain] = fields
	}
	maps.Copy(fields, mappings)
}

// Fields returns a copy of the mappings learned for a domain.
func (s *LearnedStore) Fields(domain string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.byDomain[normalizeDomain(domain)])
}

// Domains is the number of domains with learned mappings.
func (s *LearnedStore) Domains() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDomain)
}

// Domain extracts the learning key from a URL: the lowercased host without
// a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return ""
		}
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
}
