package taskqueue

var allowedAccountTransitions = map[AccountStatus]map[AccountStatus]struct{}{
	AccountNormal: {
		AccountExhausted: {},
		AccountDeviant:   {},
		AccountBlocked:   {},
	},
	AccountExhausted: {
		AccountNormal:  {}, // recovery sweep
		AccountDeviant: {},
		AccountBlocked: {},
	},
	AccountDeviant: {
		AccountBlocked: {},
	},
}

// CanTransitionAccount reports whether the account lifecycle allows from -> to.
func CanTransitionAccount(from, to AccountStatus) bool {
	next, ok := allowedAccountTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// NextAccountStatus maps a crawl outcome onto the account lifecycle.
//
// The boolean is false when the outcome leaves the account unchanged, either
// because the outcome says nothing about the account (ok, suspended, failed)
// or because the target edge is not allowed from current (e.g. throttling an
// account that is already DEVIANT).
func NextAccountStatus(current AccountStatus, outcome Outcome) (AccountStatus, bool) {
	var target AccountStatus
	switch outcome {
	case OutcomeThrottled:
		target = AccountExhausted
	case OutcomeAnomalous:
		target = AccountDeviant
	case OutcomeBanned:
		target = AccountBlocked
	default:
		return current, false
	}
	if !CanTransitionAccount(current, target) {
		return current, false
	}
	return target, true
}
