package vm

import "github.com/vmlink/vmlink/guest"

// BlockingBegin marks the start of long external blocking work (network
// I/O, file transfers) so the guest's collector does not wait on a thread
// that is making no guest progress. Calls nest; each goroutine must balance
// its own begins and ends.
//
// No guest calls are permitted between a BlockingBegin and its matching
// BlockingEnd. That is a documented contract, not a runtime check.
func (v *VM) BlockingBegin() {
	v.blockMu.Lock()
	defer v.blockMu.Unlock()

	v.blockDepth++
	if v.blockDepth == 1 {
		if n, ok := v.exec.(guest.BlockingNotifier); ok {
			n.EnterBlocking()
		}
	}
}

// BlockingEnd marks the end of blocking work. The depth never goes
// negative: an unbalanced end is a tolerated no-op.
func (v *VM) BlockingEnd() {
	v.blockMu.Lock()
	defer v.blockMu.Unlock()

	if v.blockDepth == 0 {
		v.log.Warn("unbalanced BlockingEnd")
		return
	}
	v.blockDepth--
	if v.blockDepth == 0 {
		if n, ok := v.exec.(guest.BlockingNotifier); ok {
			n.LeaveBlocking()
		}
	}
}

// BlockingDepth returns the current blocking-guard depth.
func (v *VM) BlockingDepth() int {
	v.blockMu.Lock()
	defer v.blockMu.Unlock()
	return v.blockDepth
}
