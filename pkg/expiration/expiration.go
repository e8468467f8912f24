// Package expiration bounds cache namespaces by entry count and entry age.
package expiration

import (
	"time"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

// Limits bound a single namespace. A zero value means "no bound" for that dimension.
type Limits struct {
	// Maximum number of entries kept in the namespace.
	MaxEntries int
	// Maximum age of an entry, measured from the time it was admitted.
	MaxAge time.Duration
}

// Reason tells why an entry was evicted.
type Reason string

const (
	ReasonAge   Reason = "age"
	ReasonCount Reason = "count"
)

// Policy admits entries into storage namespaces and trims them afterwards.
type Policy struct {
	store cache.Storage
	log   zerolog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnAdmit is called for every stored entry, if set.
	OnAdmit func(namespace, key string)
	// OnEvict is called for every entry removed by a trim, if set.
	OnEvict func(namespace, key string, reason Reason)
}

// New returns a policy operating on the given storage.
func New(store cache.Storage, logger zerolog.Logger) *Policy {
	return &Policy{
		store: store,
		log:   logger,
		Now:   time.Now,
	}
}

// Storage returns the underlying storage.
func (p *Policy) Storage() cache.Storage {
	return p.store
}

// Admit stores the value under key and trims the namespace.
func (p *Policy) Admit(namespace string, limits Limits, key string, value []byte) error {
	return p.AdmitAt(namespace, limits, key, value, p.Now())
}

// AdmitAt is Admit with an explicit clock value.
func (p *Policy) AdmitAt(namespace string, limits Limits, key string, value []byte, now time.Time) error {
	if err := p.store.Put(namespace, key, cache.Entry{Timestamp: now, Bytes: value}); err != nil {
		return err
	}
	p.log.Trace().Str("namespace", namespace).Str("key", key).Msg("Admitted entry")
	if p.OnAdmit != nil {
		p.OnAdmit(namespace, key)
	}
	return p.trim(namespace, limits, now)
}

// trim first drops every entry older than the max age,
// then drops the oldest remaining entries until the count bound holds.
func (p *Policy) trim(namespace string, limits Limits, now time.Time) error {
	if limits.MaxAge <= 0 && limits.MaxEntries <= 0 {
		return nil
	}
	metas, err := p.store.Keys(namespace)
	if err != nil {
		return err
	}
	remaining := make([]cache.Meta, 0, len(metas))
	for _, meta := range metas {
		if expired(meta.Timestamp, limits, now) {
			if err := p.evict(namespace, meta.Key, ReasonAge); err != nil {
				return err
			}
			continue
		}
		remaining = append(remaining, meta)
	}
	if limits.MaxEntries <= 0 {
		return nil
	}
	for len(remaining) > limits.MaxEntries {
		if err := p.evict(namespace, remaining[0].Key, ReasonCount); err != nil {
			return err
		}
		remaining = remaining[1:]
	}
	return nil
}

func (p *Policy) evict(namespace, key string, reason Reason) error {
	if err := p.store.Delete(namespace, key); err != nil {
		return err
	}
	p.log.Trace().Str("namespace", namespace).Str("key", key).Str("reason", string(reason)).Msg("Evicted entry")
	if p.OnEvict != nil {
		p.OnEvict(namespace, key, reason)
	}
	return nil
}

// Lookup returns the stored value for key.
// An entry older than the namespace max age is reported as absent
// even though it may still be stored until the next admit.
func (p *Policy) Lookup(namespace string, limits Limits, key string) ([]byte, bool, error) {
	return p.LookupAt(namespace, limits, key, p.Now())
}

// LookupAt is Lookup with an explicit clock value.
func (p *Policy) LookupAt(namespace string, limits Limits, key string, now time.Time) ([]byte, bool, error) {
	entry, ok, err := p.store.Get(namespace, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if expired(entry.Timestamp, limits, now) {
		p.log.Trace().Str("namespace", namespace).Str("key", key).Msg("Entry expired")
		return nil, false, nil
	}
	return entry.Bytes, true, nil
}

func expired(stamp time.Time, limits Limits, now time.Time) bool {
	return limits.MaxAge > 0 && now.Sub(stamp) > limits.MaxAge
}
