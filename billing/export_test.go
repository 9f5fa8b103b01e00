package billing

// HeldBillLocks exposes the size of the allocator's lock table to tests.
func HeldBillLocks(a *Allocator) int { return a.heldLocks() }
