package model

import "encoding/json"

// Policy defaults applied when a snapshot omits a field.
const (
	DefaultMaxActivations        = 3
	DefaultMaxConcurrentSessions = 2
	DefaultSessionTTLMinutes     = 60
	DefaultGracePeriodDays       = 7
	DefaultAllowOfflineDays      = 30
)

// DefaultEntitlements is the entitlement set granted when none is recorded.
func DefaultEntitlements() []string { return []string{"core-simulation"} }

// PolicySnapshot is the immutable copy of plan terms captured at license
// issuance. It never tracks later plan edits. Unknown keys in the stored JSON
// are ignored for forward compatibility; missing keys fall back to defaults.
type PolicySnapshot struct {
	MaxActivations        int      `json:"maxActivations"`
	MaxConcurrentSessions int      `json:"maxConcurrentSessions"`
	SessionTTLMinutes     int      `json:"sessionTtlMinutes"`
	GracePeriodDays       int      `json:"gracePeriodDays"`
	AllowOfflineDays      int      `json:"allowOfflineDays"`
	Entitlements          []string `json:"entitlements"`
}

// DefaultPolicySnapshot returns a snapshot with every field at its default.
func DefaultPolicySnapshot() PolicySnapshot {
	return PolicySnapshot{
		MaxActivations:        DefaultMaxActivations,
		MaxConcurrentSessions: DefaultMaxConcurrentSessions,
		SessionTTLMinutes:     DefaultSessionTTLMinutes,
		GracePeriodDays:       DefaultGracePeriodDays,
		AllowOfflineDays:      DefaultAllowOfflineDays,
		Entitlements:          DefaultEntitlements(),
	}
}

// Normalize fills zero-valued fields with defaults. Called once when a
// snapshot is captured or deserialized.
func (p PolicySnapshot) Normalize() PolicySnapshot {
	if p.MaxActivations <= 0 {
		p.MaxActivations = DefaultMaxActivations
	}
	if p.MaxConcurrentSessions <= 0 {
		p.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if p.SessionTTLMinutes <= 0 {
		p.SessionTTLMinutes = DefaultSessionTTLMinutes
	}
	if p.GracePeriodDays < 0 {
		p.GracePeriodDays = DefaultGracePeriodDays
	}
	if p.AllowOfflineDays <= 0 {
		p.AllowOfflineDays = DefaultAllowOfflineDays
	}
	if len(p.Entitlements) == 0 {
		p.Entitlements = DefaultEntitlements()
	}
	return p
}

// ParsePolicySnapshot decodes a stored JSON snapshot, ignoring unknown keys
// and defaulting missing ones. nil or empty input yields the default policy.
func ParsePolicySnapshot(raw []byte) (PolicySnapshot, error) {
	if len(raw) == 0 {
		return DefaultPolicySnapshot(), nil
	}
	var p PolicySnapshot
	if err := json.Unmarshal(raw, &p); err != nil {
		return PolicySnapshot{}, err
	}
	return p.Normalize(), nil
}
