package handoff

import "github.com/BaSui01/relayflow/types"

// legalTransitions enumerates every permitted status move. Anything absent
// is illegal, including any move out of a terminal state.
//
// pending → assigned → {resolved, rejected}, plus pending → rejected for
// withdrawing an unassigned handoff. Internal recovery paths (reassignment
// gap, timeout close) move status outside this machine and are not reachable
// from the administrative surface.
var legalTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusRejected},
	StatusAssigned: {StatusResolved, StatusRejected},
	StatusResolved: {},
	StatusRejected: {},
}

// ValidateTransition checks a status move against the lifecycle state
// machine. It is pure and synchronous; callers invoke it before every
// status-changing store write. The returned error names the attempted
// (from, to) pair.
func ValidateTransition(from, to Status) error {
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return types.NewTransitionError(string(from), string(to))
}
