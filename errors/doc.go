// Package errors provides structured error types for the embedding core.
//
// Every error carries a Phase (where in the core it happened) and a Kind
// (what category of failure it is). Callers branch on Kind:
//
//	_, err := v.CallSync("update", nil)
//	if errors.IsKind(err, errors.KindGuestException) {
//	    // target executed and the guest raised
//	} else if errors.IsKind(err, errors.KindWorkerNotRunning) {
//	    // nothing executed
//	}
//
// Errors.Is matching compares Phase and Kind, so sentinel comparison with
// a zero-detail error of the same Phase/Kind also works.
package errors
