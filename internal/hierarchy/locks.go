package hierarchy

import (
	"sort"
	"sync"
)

// subtreeLocks serializes structural mutations per hierarchy root. Two
// reassignments touching disjoint trees proceed in parallel; overlapping ones
// queue so no reader observes a half-rebuilt (level, path) pair.
type subtreeLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newSubtreeLocks() *subtreeLocks {
	return &subtreeLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks every given root in ascending id order and returns the
// matching release function. Deterministic ordering prevents deadlock when a
// move spans two trees.
func (l *subtreeLocks) acquire(rootIDs ...int64) func() {
	unique := make(map[int64]struct{}, len(rootIDs))
	for _, id := range rootIDs {
		unique[id] = struct{}{}
	}
	ordered := make([]int64, 0, len(unique))
	for id := range unique {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		held = append(held, l.forRoot(id))
	}
	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (l *subtreeLocks) forRoot(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
