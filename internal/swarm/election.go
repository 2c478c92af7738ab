package swarm

// Resolve reports whether the local node is the active reporter. It is true
// unless another identifier's slot holds a known reading strictly greater than
// localReading. Unknown slots and ties never demote, so two nodes sharing the
// maximum both resolve to leader; there is no tie-break. The local slot is
// skipped even if a colliding peer has written to it.
//
// Resolve is pure: it is re-evaluated after every local broadcast and its
// result is never cached.
func Resolve(localID, localReading int, table *Table) bool {
	for id := 0; id < table.Capacity(); id++ {
		if id == localID {
			continue
		}
		if r, ok := table.Get(id); ok && r > localReading {
			return false
		}
	}
	return true
}
