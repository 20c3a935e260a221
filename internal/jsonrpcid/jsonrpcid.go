// Package jsonrpcid allocates non-overlapping JSON-RPC id ranges for the two
// places this system injects its own requests into a peer's id space: the
// Bridge's post-connect tools/list discovery (spec.md §4.4) and the Hub
// Router's id rewriting for dispatched browser requests (spec.md §4.7,
// "a router-assigned id within a reserved space to avoid collisions across
// browsers").
//
// Both ranges are disjoint from any id a well-behaved JSON-RPC client would
// pick (small positive integers or short strings), and disjoint from each
// other, so a stray response can never be misattributed across components.
package jsonrpcid

import "sync/atomic"

const (
	// DiscoveryBase is the single id the Bridge uses for its tools/list
	// discovery call on each Endpoint Session (spec.md §4.4). One fixed value
	// suffices: at most one discovery call is outstanding per session.
	DiscoveryBase int64 = -1

	// RouterRangeStart is the first id the Hub Router hands out when
	// rewriting a browser-submitted request id before forwarding it to a
	// Tool-Server Session (spec.md §4.7).
	RouterRangeStart int64 = 1_000_000_000
)

// Allocator hands out sequential ids from RouterRangeStart upward.
type Allocator struct {
	next atomic.Int64
}

// NewAllocator returns an Allocator seeded at RouterRangeStart.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.next.Store(RouterRangeStart)
	return a
}

// Next returns the next id in the reserved range.
func (a *Allocator) Next() int64 {
	return a.next.Add(1) - 1
}
