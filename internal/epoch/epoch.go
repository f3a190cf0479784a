// Package epoch implements the sequence-number staleness guard used to drop
// asynchronous results that were superseded before they arrived.
package epoch

// Guard issues monotonically increasing epochs. The first epoch is 0 and no
// epoch is ever reused. A Guard is owned by one event loop and is not safe
// for concurrent use.
type Guard struct {
	issued uint64 // number of epochs issued so far
}

// Next issues a new epoch.
func (g *Guard) Next() uint64 {
	e := g.issued
	g.issued++
	return e
}

// IsStale reports whether an epoch later than e has been issued since.
func (g *Guard) IsStale(e uint64) bool {
	return e+1 < g.issued
}

// Current returns the latest issued epoch and false if none was issued yet.
func (g *Guard) Current() (uint64, bool) {
	if g.issued == 0 {
		return 0, false
	}
	return g.issued - 1, true
}
