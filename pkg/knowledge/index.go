package knowledge

// tripleIndex holds the three inverted indices over the store's triple
// array: value -> ordered list of positions in the backing slice, plus a
// (subject, predicate, object) tuple map enforcing triple uniqueness.
//
// Positions are only valid for the array ordering they were built against.
// Inserts append in order, so indices grow incrementally; any mutation that
// reorders the array (delete) invalidates every position, hence the full
// O(n) rebuild. That contract is deliberate: deletes are rare next to
// lookups, and rebuild keeps the index code free of tombstone bookkeeping.
//
// The object index is maintained alongside the other two even though Query
// resolves object filters by linear scan; see the package design notes.
type tripleIndex struct {
	bySubject   map[EntityID][]int
	byPredicate map[string][]int
	byObject    map[string][]int
	byTuple     map[string]int // tuple key -> position
}

func newTripleIndex() *tripleIndex {
	return &tripleIndex{
		bySubject:   make(map[EntityID][]int),
		byPredicate: make(map[string][]int),
		byObject:    make(map[string][]int),
		byTuple:     make(map[string]int),
	}
}

// tupleKey is the uniqueness key for one (subject, predicate, object).
func tupleKey(subject EntityID, predicate string, object Object) string {
	return string(subject) + "\x00" + predicate + "\x00" + object.key()
}

// add appends the triple at position pos. Valid only when pos extends the
// array in append order.
func (idx *tripleIndex) add(pos int, t *Triple) {
	idx.bySubject[t.Subject] = append(idx.bySubject[t.Subject], pos)
	idx.byPredicate[t.Predicate] = append(idx.byPredicate[t.Predicate], pos)
	idx.byObject[t.Object.key()] = append(idx.byObject[t.Object.key()], pos)
	idx.byTuple[tupleKey(t.Subject, t.Predicate, t.Object)] = pos
}

// rebuild reconstructs every index from scratch. O(n) in the number of
// triples; called after any delete that compacts the backing array.
func (idx *tripleIndex) rebuild(triples []*Triple) {
	idx.bySubject = make(map[EntityID][]int)
	idx.byPredicate = make(map[string][]int)
	idx.byObject = make(map[string][]int)
	idx.byTuple = make(map[string]int, len(triples))

	for pos, t := range triples {
		idx.add(pos, t)
	}
}

// lookupTuple returns the position of the triple with the exact
// (subject, predicate, object) tuple, or -1.
func (idx *tripleIndex) lookupTuple(subject EntityID, predicate string, object Object) int {
	pos, ok := idx.byTuple[tupleKey(subject, predicate, object)]
	if !ok {
		return -1
	}
	return pos
}
