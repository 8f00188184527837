package engine

import (
	"slices"
	"sync"

	"github.com/solatis/tripwire/internal/types"
)

// satisfiedSet holds the ids of conditions whose latest resolution matched.
// Hooks mutate it from monitor goroutines while the loop snapshots it, so
// every access goes through mu. Ids outside the declared set are ignored.
type satisfiedSet struct {
	mu       sync.Mutex
	declared map[types.ConditionID]struct{}
	ids      map[types.ConditionID]struct{}
}

func newSatisfiedSet(conditions []*types.Condition) *satisfiedSet {
	s := &satisfiedSet{
		declared: make(map[types.ConditionID]struct{}, len(conditions)),
		ids:      make(map[types.ConditionID]struct{}, len(conditions)),
	}
	for _, c := range conditions {
		s.declared[c.ID] = struct{}{}
	}
	return s
}

// add reports whether id was newly inserted.
func (s *satisfiedSet) add(id types.ConditionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.declared[id]; !ok {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// remove reports whether id was present.
func (s *satisfiedSet) remove(id types.ConditionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *satisfiedSet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

// snapshot returns a copy safe to hand to policy evaluation.
func (s *satisfiedSet) snapshot() map[types.ConditionID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.ConditionID]struct{}, len(s.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	return out
}

func sortedIDs(set map[types.ConditionID]struct{}) []types.ConditionID {
	ids := make([]types.ConditionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
