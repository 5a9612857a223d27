package policy

// Decision is the outcome of an authorization check.
type Decision int

const (
	// DecisionDeny blocks the action outright.
	DecisionDeny Decision = iota
	// DecisionPropose allows the action only as a pending proposal.
	DecisionPropose
	// DecisionAllow permits immediate execution.
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionDeny:
		return "deny"
	case DecisionPropose:
		return "propose"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decide is the pure authorization decision function.
//
// An ungranted authority is denied regardless of mode. For granted
// authorities the mode decides: read_only denies, propose defers to human
// approval, auto_safe and auto_all allow.
func Decide(ectx *ExecutionContext, authority string) Decision {
	if !ectx.Policy.HasAuthority(authority) {
		return DecisionDeny
	}

	switch ectx.Policy.Mode {
	case ModeReadOnly:
		return DecisionDeny
	case ModePropose:
		return DecisionPropose
	case ModeAutoSafe, ModeAutoAll:
		return DecisionAllow
	default:
		return DecisionDeny
	}
}

// WithinAutoApproveLimit reports whether the amount is small enough to skip
// human approval. An amount equal to the threshold already requires approval.
// This is a separate axis from Decide: either can force the approval path.
func WithinAutoApproveLimit(ectx *ExecutionContext, amount float64) bool {
	return amount < ectx.Policy.ApprovalRequiredOverAmount
}
