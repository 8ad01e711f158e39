package fetcher

import "sync/atomic"

// Budget is a shared item allowance decremented across all branches of a
// concurrent traversal. Safe for use from many goroutines.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget creates a budget allowing up to n items.
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(n))
	return b
}

// TakeItem claims one item from the budget. Returns false when the
// budget is exhausted; the claim is atomic, so concurrent branches never
// overdraw.
func (b *Budget) TakeItem() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining reports the items still available. The value is advisory
// under concurrency; use TakeItem to actually claim.
func (b *Budget) Remaining() int {
	n := b.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// HasItems reports whether at least one item is still available.
func (b *Budget) HasItems() bool {
	return b.remaining.Load() > 0
}
