// Package namesrc implements the name supply: a single
// 64-bit counter threaded explicitly through the pipeline, never a global.
// Wraps this small piece of mutable state behind a constructor + methods
// rather than package vars.
package namesrc

import "fmt"

// Name is an opaque, globally-unique identifier carrying a human-readable
// tag for diagnostics.
type Name struct {
	id  uint64
	Tag string
}

// String renders a name as "tag_id" for pretty-printing.
func (n Name) String() string {
	if n.Tag == "" {
		return fmt.Sprintf("_%d", n.id)
	}
	return fmt.Sprintf("%s_%d", n.Tag, n.id)
}

// ID exposes the raw counter value for use as a map key or in structural
// equality checks that must not depend on Tag.
func (n Name) ID() uint64 { return n.id }

// Equal compares names by identity (their counter value), ignoring Tag —
// two Name values with the same id are always the same binding.
func (n Name) Equal(other Name) bool { return n.id == other.id }

// Source is the monotone counter. Its zero value is ready to use.
type Source struct {
	next uint64
}

// Checkpoint is an opaque snapshot of a Source, used to implement
// speculative transformations (e.g. a kernel-extraction distribution
// attempt) that are discarded on failure.
type Checkpoint struct {
	at uint64
}

// Fresh allocates a new, never-before-returned name carrying tag verbatim.
func (s *Source) Fresh(tag string) Name {
	s.next++
	return Name{id: s.next, Tag: tag}
}

// Save returns a Checkpoint capturing the current counter value.
func (s *Source) Save() Checkpoint {
	return Checkpoint{at: s.next}
}

// Restore rewinds the counter to a previously saved Checkpoint. Every name
// allocated since the checkpoint becomes available for reuse; callers must
// ensure no binding carrying one of those names survives the rollback,
// since the counter — not a free-list — is the only source of truth.
func (s *Source) Restore(cp Checkpoint) {
	if cp.at > s.next {
		// Never move forward on restore; a checkpoint from another Source
		// (or a corrupted one) must not silently rewind further forward.
		return
	}
	s.next = cp.at
}

// Peek returns the current counter value without allocating, useful for
// tests asserting monotonicity.
func (s *Source) Peek() uint64 { return s.next }
