package server

import "time"

// KeepAlivePolicy tracks how long an idle server stays up.
//
// It starts from the configured default. The first client request replaces the
// default outright; after that only longer durations are accepted.
type KeepAlivePolicy struct {
	value     time.Duration
	enabled   bool
	isDefault bool
}

// NewKeepAlivePolicy returns a policy holding the configured default. When
// enabled is false the server never times out while idle.
func NewKeepAlivePolicy(d time.Duration, enabled bool) KeepAlivePolicy {
	if !enabled {
		d = 0
	}
	return KeepAlivePolicy{value: d, enabled: enabled, isDefault: true}
}

// Effective returns the idle timeout in force and whether there is one.
func (p KeepAlivePolicy) Effective() (time.Duration, bool) {
	return p.value, p.enabled
}

// IsDefault reports whether no client has supplied a keep-alive yet.
func (p KeepAlivePolicy) IsDefault() bool {
	return p.isDefault
}

// Update applies a client-requested keep-alive and reports whether it changed
// the effective value.
func (p *KeepAlivePolicy) Update(d time.Duration) bool {
	if !p.isDefault && p.enabled && d <= p.value {
		return false
	}
	p.value = d
	p.enabled = true
	p.isDefault = false
	return true
}
