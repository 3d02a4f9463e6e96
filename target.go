package xdb

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects how a statement is applied across a TargetSet.
type Policy int

const (
	// RunOnFirst tries targets in order and stops at the first success.
	RunOnFirst Policy = iota
	// RunOnAll executes on every target and records each outcome.
	RunOnAll
)

func (p Policy) String() string {
	switch p {
	case RunOnFirst:
		return "first"
	case RunOnAll:
		return "all"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "first"/"runonfirst" and "all"/"runonall".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "runonfirst", "executeonfirst":
		return RunOnFirst, nil
	case "all", "runonall", "executeonall":
		return RunOnAll, nil
	}
	return RunOnFirst, fmt.Errorf("%w: unknown policy %q", ErrConfiguration, s)
}

const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultConnectTimeout = 15 * time.Second
)

// Target is one database endpoint. Zero timeouts fall back to the defaults;
// a generic Dialect is inferred from Driver.
type Target struct {
	Name           string
	Driver         string // database/sql driver name, e.g. "pgx", "sqlite"
	DSN            string
	Dialect        Dialect
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
}

func (t Target) commandTimeout() time.Duration {
	if t.CommandTimeout > 0 {
		return t.CommandTimeout
	}
	return DefaultCommandTimeout
}

func (t Target) connectTimeout() time.Duration {
	if t.ConnectTimeout > 0 {
		return t.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// TargetSet is an ordered, non-empty list of targets plus a policy.
type TargetSet struct {
	targets []Target
	policy  Policy
}

// NewTargetSet validates and normalizes the targets. It fails with
// ErrConfiguration when the list is empty, a target has no DSN, or two
// targets share a name.
func NewTargetSet(policy Policy, targets ...Target) (*TargetSet, error) {
	if policy != RunOnFirst && policy != RunOnAll {
		return nil, fmt.Errorf("%w: unknown policy %d", ErrConfiguration, int(policy))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: target set is empty", ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(targets))
	out := make([]Target, len(targets))
	for i, t := range targets {
		if strings.TrimSpace(t.DSN) == "" {
			return nil, fmt.Errorf("%w: target %d has no connection string", ErrConfiguration, i)
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("target-%d", i)
		}
		key := strings.ToLower(t.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate target name %q", ErrConfiguration, t.Name)
		}
		seen[key] = struct{}{}
		if t.Dialect == DialectGeneric {
			t.Dialect = DialectFor(t.Driver)
		}
		out[i] = t
	}
	return &TargetSet{targets: out, policy: policy}, nil
}

// TargetsFromDSNs builds one target per connection string with default
// timeouts.
func TargetsFromDSNs(driverName string, dsns ...string) []Target {
	out := make([]Target, len(dsns))
	for i, dsn := range dsns {
		out[i] = Target{Driver: driverName, DSN: dsn}
	}
	return out
}

func (s *TargetSet) Policy() Policy { return s.policy }
func (s *TargetSet) Len() int       { return len(s.targets) }

// Targets returns a copy of the targets in order.
func (s *TargetSet) Targets() []Target { return append([]Target(nil), s.targets...) }
