package project

import (
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/request"
)

type ConstraintKind string

const (
	ConstraintTrustLevel       ConstraintKind = "trust_level"
	ConstraintRateLimit        ConstraintKind = "rate_limit"
	ConstraintApprovalRequired ConstraintKind = "approval_required"
)

type Enforcement string

const (
	EnforcementHard Enforcement = "hard"
	EnforcementSoft Enforcement = "soft"
)

// ConstraintDecl is one validated role constraint. Only the fields for
// its Kind are meaningful.
type ConstraintDecl struct {
	Kind        ConstraintKind
	Enforcement Enforcement

	// trust_level
	MinTrust request.TrustLevel

	// rate_limit
	MaxCount int
	Window   time.Duration

	// approval_required
	Approver string
}

func (c ConstraintDecl) String() string {
	switch c.Kind {
	case ConstraintTrustLevel:
		return fmt.Sprintf("trust_level(min=%s, %s)", c.MinTrust, c.Enforcement)
	case ConstraintRateLimit:
		return fmt.Sprintf("rate_limit(max=%d, window=%s, %s)", c.MaxCount, c.Window, c.Enforcement)
	case ConstraintApprovalRequired:
		return fmt.Sprintf("approval_required(approver=%s, %s)", c.Approver, c.Enforcement)
	default:
		return string(c.Kind)
	}
}

type rawConstraint struct {
	Type        string `yaml:"type"`
	Enforcement string `yaml:"enforcement"`
	Min         string `yaml:"min"`
	Max         int    `yaml:"max"`
	Window      string `yaml:"window"`
	Approver    string `yaml:"approver"`
}

// parseConstraint validates one declaration. Unknown constraint types are
// rejected here so they fail at config load, not at evaluation time.
func parseConstraint(raw rawConstraint) (ConstraintDecl, error) {
	decl := ConstraintDecl{Enforcement: EnforcementHard}

	switch raw.Enforcement {
	case "", string(EnforcementHard):
	case string(EnforcementSoft):
		decl.Enforcement = EnforcementSoft
	default:
		return decl, fmt.Errorf("unknown enforcement %q", raw.Enforcement)
	}

	switch ConstraintKind(raw.Type) {
	case ConstraintTrustLevel:
		min, err := request.ParseTrustLevel(raw.Min)
		if err != nil {
			return decl, fmt.Errorf("trust_level constraint: %w", err)
		}
		decl.Kind = ConstraintTrustLevel
		decl.MinTrust = min

	case ConstraintRateLimit:
		if raw.Max <= 0 {
			return decl, fmt.Errorf("rate_limit constraint: max must be positive, got %d", raw.Max)
		}
		window, err := time.ParseDuration(raw.Window)
		if err != nil {
			return decl, fmt.Errorf("rate_limit constraint: parse window %q: %w", raw.Window, err)
		}
		if window <= 0 {
			return decl, fmt.Errorf("rate_limit constraint: window must be positive, got %s", window)
		}
		decl.Kind = ConstraintRateLimit
		decl.MaxCount = raw.Max
		decl.Window = window

	case ConstraintApprovalRequired:
		if raw.Approver == "" {
			return decl, fmt.Errorf("approval_required constraint: approver is required")
		}
		decl.Kind = ConstraintApprovalRequired
		decl.Approver = raw.Approver

	default:
		return decl, fmt.Errorf("unknown constraint type %q", raw.Type)
	}

	return decl, nil
}
