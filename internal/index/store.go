package index

import (
	"fmt"
	"sort"
)

// Store is the ordered metadata collection aligned with a Flat index: item i
// describes vector row i. Lookups by id go through a hash index.
type Store struct {
	items []Item
	byID  map[string]int
}

// NewStore builds a Store over items, in order. Item ids must be unique.
func NewStore(items []Item) (*Store, error) {
	byID := make(map[string]int, len(items))
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("index: item at position %d has empty id", i)
		}
		if prev, dup := byID[it.ID]; dup {
			return nil, fmt.Errorf("index: duplicate item id %q at positions %d and %d", it.ID, prev, i)
		}
		byID[it.ID] = i
	}
	return &Store{items: items, byID: byID}, nil
}

// Len returns the number of items.
func (s *Store) Len() int { return len(s.items) }

// At returns the item at position i.
func (s *Store) At(i int) Item { return s.items[i] }

// Get returns the item with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Item, error) {
	i, ok := s.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.items[i], nil
}

// List returns, in position order, up to limit items whose metadata satisfies
// match, together with the total number of matching items. A nil match
// accepts everything; limit <= 0 returns every match.
func (s *Store) List(match func(Metadata) bool, limit int) ([]Item, int) {
	out := []Item{}
	total := 0
	for _, it := range s.items {
		if match != nil && !match(it.Meta) {
			continue
		}
		total++
		if limit <= 0 || len(out) < limit {
			out = append(out, it)
		}
	}
	return out, total
}

// Programs returns the sorted distinct non-empty program values.
func (s *Store) Programs() []string {
	return s.distinct(func(m Metadata) string { return m.Program })
}

// Years returns the sorted distinct non-empty year values.
func (s *Store) Years() []string {
	return s.distinct(func(m Metadata) string { return m.Year })
}

// distinct collects the sorted set of non-empty values produced by field.
func (s *Store) distinct(field func(Metadata) string) []string {
	seen := make(map[string]struct{})
	for _, it := range s.items {
		if v := field(it.Meta); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
