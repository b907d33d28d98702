package schema

// Action is the direction of a trade recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Verdict is the terminal risk classification of a trade signal.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictFlagged  Verdict = "FLAGGED"
	VerdictRejected Verdict = "REJECTED"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictApproved, VerdictFlagged, VerdictRejected:
		return true
	}
	return false
}

// Approved reports whether the verdict lets the signal through, possibly
// with warnings attached.
func (v Verdict) Approved() bool {
	return v == VerdictApproved || v == VerdictFlagged
}
