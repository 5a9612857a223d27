// Package proposal turns prospective actions into immutable, identifiable
// proposal objects and manages their approval lifecycle.
//
// A proposal is a value: approval and execution produce audit records, never
// mutations of the proposal itself. IDs are deterministic short hashes scoped
// to one interactive session, not globally unique keys.
package proposal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fokalhq/fokal/internal/policy"
)

var (
	ErrNotFound        = errors.New("proposal not found")
	ErrExpired         = errors.New("proposal expired")
	ErrAlreadyResolved = errors.New("proposal already resolved")
)

// idLength is the hex length of a proposal ID. Collision-resistant within a
// session; proposals are short-lived so this is not a global key.
const idLength = 12

// Proposal describes a pending, not-yet-executed action awaiting approval.
type Proposal struct {
	ID               string           `json:"id"`
	Tool             string           `json:"tool"`
	Args             map[string]any   `json:"args"`
	RequiresApproval bool             `json:"requires_approval"`
	Label            string           `json:"label"`
	Reason           string           `json:"reason"`
	RiskLevel        policy.RiskLevel `json:"risk_level"`
	EstimatedTime    string           `json:"estimated_time,omitempty"`
	Preview          string           `json:"preview,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// New creates a proposal with a deterministic ID derived from the tool name,
// the arguments, and the creation instant.
func New(tool string, args map[string]any, requiresApproval bool, label, reason string, risk policy.RiskLevel) Proposal {
	now := time.Now().UTC()
	return Proposal{
		ID:               deriveID(tool, args, now),
		Tool:             tool,
		Args:             args,
		RequiresApproval: requiresApproval,
		Label:            label,
		Reason:           reason,
		RiskLevel:        risk,
		CreatedAt:        now,
	}
}

// WithPreview returns a copy of the proposal carrying preview text.
func (p Proposal) WithPreview(preview string) Proposal {
	p.Preview = preview
	return p
}

// WithEstimatedTime returns a copy of the proposal carrying a time estimate.
func (p Proposal) WithEstimatedTime(estimate string) Proposal {
	p.EstimatedTime = estimate
	return p
}

// Validate checks that a proposal sourced from client input is acted upon
// only when structurally complete.
func (p *Proposal) Validate() error {
	switch {
	case p.ID == "":
		return errors.New("proposal missing id")
	case p.Tool == "":
		return errors.New("proposal missing tool")
	case p.Label == "":
		return errors.New("proposal missing label")
	case p.Args == nil:
		return errors.New("proposal missing args")
	}
	return nil
}

// deriveID hashes (tool, canonical args, instant) to a short hex ID.
// Arguments are serialized with sorted keys so the hash does not depend on
// map iteration order.
func deriveID(tool string, args map[string]any, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonicalArgs(args))
	h.Write([]byte{0})
	h.Write([]byte(at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

func canonicalArgs(args map[string]any) []byte {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", args[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}
	return []byte(b.String())
}

// FormatForApproval renders a human-readable approval ask for a set of
// proposals, annotating non-low risk and including any preview text.
func FormatForApproval(proposals []Proposal) string {
	if len(proposals) == 0 {
		return "Nothing to approve."
	}

	var b strings.Builder
	b.WriteString("The following actions need your approval:\n")
	for i, p := range proposals {
		fmt.Fprintf(&b, "\n%d. %s", i+1, p.Label)
		if p.RiskLevel != policy.RiskLow {
			fmt.Fprintf(&b, " [%s risk]", p.RiskLevel)
		}
		if p.Reason != "" {
			fmt.Fprintf(&b, "\n   Reason: %s", p.Reason)
		}
		if p.EstimatedTime != "" {
			fmt.Fprintf(&b, "\n   Estimated time: %s", p.EstimatedTime)
		}
		if p.Preview != "" {
			fmt.Fprintf(&b, "\n   Preview: %s", p.Preview)
		}
		fmt.Fprintf(&b, "\n   (id: %s)", p.ID)
	}
	return b.String()
}
