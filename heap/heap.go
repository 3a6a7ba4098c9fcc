// Package heap implements the slotted object heap of spec.md §3/§4.2: a
// slot-map giving stable numeric identities to values held across the
// native/JS boundary, a borrow stack of short-lived references, and
// nestable reservation scopes for the batch-mode placeholder-ID protocol
// of spec.md §4.4.
package heap

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/wirebridge/jsrt/errs"
)

// Slot ID ranges, spec.md §3.
const (
	BorrowRangeStart  = uint64(1)
	BorrowRangeEnd    = uint64(127)
	SpecialUndefined  = uint64(128)
	SpecialNull       = uint64(129)
	SpecialTrue       = uint64(130)
	SpecialFalse      = uint64(131)
	AllocatedStart    = uint64(132)
)

// Undefined and Null are distinct sentinel values: Go has no built-in
// types for JS's undefined/null, and collapsing both to nil would make
// Option's absent/present distinction ambiguous with a present null.
type Undefined struct{}
type Null struct{}

// reservationScope is the (start, count, nextIndex) triple of spec.md §3.
type reservationScope struct {
	start     uint64
	count     uint32
	nextIndex uint32
}

// Heap is a single boundary's slot-map, borrow stack, and reservation
// scope stack. It is not safe for concurrent use — spec.md §5 is explicit
// that the webview this runs in executes on one cooperative thread.
type Heap struct {
	slots     []any
	allocated *bitset.BitSet // bit i set <=> slot (AllocatedStart+i) is live
	waterMark uint64

	borrow    [BorrowRangeEnd + 1]any // index 1..127 used; 0 unused
	borrowPtr uint64

	scopes []reservationScope
}

// New creates a Heap with the four special slots pre-initialised, per
// spec.md §3: undefined, null, true, false, in that order.
func New() *Heap {
	return &Heap{
		waterMark: AllocatedStart,
		allocated: bitset.New(0),
		borrowPtr: SpecialUndefined, // 128
	}
}

// Special returns the value of one of the four reserved slots, or ok=false
// if id is not one of them.
func Special(id uint64) (v any, ok bool) {
	switch id {
	case SpecialUndefined:
		return Undefined{}, true
	case SpecialNull:
		return Null{}, true
	case SpecialTrue:
		return true, true
	case SpecialFalse:
		return false, true
	default:
		return nil, false
	}
}

// Insert assigns the current water-mark as ID, advances the water-mark,
// stores v, and returns the ID. It never reuses freed IDs (spec.md §4.2,
// invariant iii).
func (h *Heap) Insert(v any) uint64 {
	id := h.waterMark
	h.slots = append(h.slots, v)
	h.allocated.Set(uint(id - AllocatedStart))
	h.waterMark++
	return id
}

// Get returns the value at id, including special and borrow-stack IDs.
func (h *Heap) Get(id uint64) (any, error) {
	if v, ok := Special(id); ok {
		return v, nil
	}
	if id >= BorrowRangeStart && id <= BorrowRangeEnd {
		if id < h.borrowPtr {
			return nil, fmt.Errorf("heap: borrow slot %d not live: %w", id, errs.ErrProtocolViolation)
		}
		return h.borrow[id], nil
	}
	if id >= AllocatedStart && h.Has(id) {
		return h.slots[id-AllocatedStart], nil
	}
	return nil, fmt.Errorf("heap: id %d is not a live slot: %w", id, errs.ErrProtocolViolation)
}

// Remove clears the slot at id and marks it free in the allocated bitset.
// IDs below AllocatedStart (special or borrow-stack) are a no-op, per
// spec.md §4.2.
func (h *Heap) Remove(id uint64) {
	if id < AllocatedStart {
		return
	}
	if id >= h.waterMark {
		return
	}
	h.slots[id-AllocatedStart] = nil
	h.allocated.Clear(uint(id - AllocatedStart))
}

// Has reports whether id is within the allocated range and not freed.
func (h *Heap) Has(id uint64) bool {
	if id < AllocatedStart || id >= h.waterMark {
		return false
	}
	return h.allocated.Test(uint(id - AllocatedStart))
}

// LiveCount is the number of set bits in the allocated bitset: inserted
// or filled slots that have not been removed. Reserved placeholder IDs
// that have not been filled yet are not counted.
func (h *Heap) LiveCount() uint64 {
	return uint64(h.allocated.Count())
}

// AddBorrowedRef decrements the borrow-stack pointer (starting at 128,
// bounded below by 1), stores v, and returns the new pointer. It fails
// with ErrBorrowStackOverflow once 127 borrowed references are already
// live (spec.md §7).
func (h *Heap) AddBorrowedRef(v any) (uint64, error) {
	if h.borrowPtr <= BorrowRangeStart {
		return 0, fmt.Errorf("heap: %w", errs.ErrBorrowStackOverflow)
	}
	h.borrowPtr--
	h.borrow[h.borrowPtr] = v
	return h.borrowPtr, nil
}

// PushBorrowFrame saves the current borrow-stack pointer.
func (h *Heap) PushBorrowFrame() uint64 { return h.borrowPtr }

// PopBorrowFrame restores the borrow-stack pointer to a saved frame,
// clearing every slot between the current pointer and the saved one.
func (h *Heap) PopBorrowFrame(saved uint64) {
	for i := h.borrowPtr; i < saved; i++ {
		h.borrow[i] = nil
	}
	h.borrowPtr = saved
}

// PushReservationScope advances the water-mark by n and records a new
// innermost reservation scope starting at the old water-mark.
func (h *Heap) PushReservationScope(n uint32) {
	start := h.waterMark
	for i := uint32(0); i < n; i++ {
		h.slots = append(h.slots, nil)
	}
	h.waterMark += uint64(n)
	h.scopes = append(h.scopes, reservationScope{start: start, count: n})
}

// PopReservationScope removes the innermost reservation scope.
func (h *Heap) PopReservationScope() {
	if len(h.scopes) == 0 {
		return
	}
	h.scopes = h.scopes[:len(h.scopes)-1]
}

// FillNextReserved stores v at the innermost scope's next placeholder ID
// and advances that scope's cursor, returning the ID used.
func (h *Heap) FillNextReserved(v any) (uint64, error) {
	if len(h.scopes) == 0 {
		return 0, fmt.Errorf("heap: fillNextReserved with no active scope: %w", errs.ErrReservationExhausted)
	}
	scope := &h.scopes[len(h.scopes)-1]
	if scope.nextIndex >= scope.count {
		return 0, fmt.Errorf("heap: reservation scope full (%d/%d): %w", scope.nextIndex, scope.count, errs.ErrReservationExhausted)
	}
	id := scope.start + uint64(scope.nextIndex)
	h.slots[id-AllocatedStart] = v
	h.allocated.Set(uint(id - AllocatedStart))
	scope.nextIndex++
	return id, nil
}

// HasActiveReservationScope reports whether a reservation scope is
// currently pushed.
func (h *Heap) HasActiveReservationScope() bool { return len(h.scopes) > 0 }

// WaterMark returns the next unused allocated heap ID.
func (h *Heap) WaterMark() uint64 { return h.waterMark }
