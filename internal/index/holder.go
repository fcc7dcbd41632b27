package index

import "sync/atomic"

// Holder is the process-wide reference to the active snapshot. Readers call
// Load once per operation and keep using that snapshot; Swap replaces the
// reference wholesale, so a reader never observes a half-replaced pair.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the active snapshot, or nil when none is loaded.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs snap as the active snapshot and returns the previous one.
func (h *Holder) Swap(snap *Snapshot) *Snapshot {
	return h.current.Swap(snap)
}

// CompareAndSwap installs snap only if the active snapshot is still old.
func (h *Holder) CompareAndSwap(old, snap *Snapshot) bool {
	return h.current.CompareAndSwap(old, snap)
}
