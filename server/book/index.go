// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package book

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

// ErrIndexCorrupt indicates a stored position does not match the live slot of
// an order in an index. It is never expected and indicates a bug.
const ErrIndexCorrupt = dex.ErrorKind("index corrupt")

// positioner resolves the stored position field of an order for one index.
// The pointer is resolved through the book's arena on every call, so it
// remains valid after other members of the index are moved.
type positioner func(order.OrderID) *int

// removeAt removes id from ids by moving the last element into its slot and
// shrinking the slice by one. The moved element's position is updated. The
// removed position is returned so the removal can be undone with reinsertAt.
func removeAt(ids []order.OrderID, pos positioner, id order.OrderID) ([]order.OrderID, int, error) {
	p := pos(id)
	if p == nil {
		return ids, -1, dex.NewError(ErrIndexCorrupt, fmt.Sprintf("no position for %v", id))
	}
	i := *p
	if i < 0 || i >= len(ids) || ids[i] != id {
		return ids, -1, dex.NewError(ErrIndexCorrupt, fmt.Sprintf("order %v not at stored position %d", id, i))
	}
	last := len(ids) - 1
	if i != last {
		moved := ids[last]
		ids[i] = moved
		*pos(moved) = i
	}
	ids[last] = order.OrderID{}
	*p = -1
	return ids[:last], i, nil
}

// reinsertAt is the exact inverse of removeAt. The element now at position i
// is moved back to the end and id is put at i.
func reinsertAt(ids []order.OrderID, pos positioner, id order.OrderID, i int) []order.OrderID {
	ids = append(ids, id)
	last := len(ids) - 1
	if i >= 0 && i < last {
		moved := ids[i]
		ids[i] = id
		ids[last] = moved
		*pos(moved) = last
	} else {
		i = last
	}
	*pos(id) = i
	return ids
}

// Index maps keys, e.g. a maker address or collection address, to the ids of
// the orders having that key. Every member's stored position, as resolved by
// the positioner, is equal to its slot in the key's slice. Removal reorders
// the slice.
type Index[K comparable] struct {
	lists map[K][]order.OrderID
	pos   positioner
}

// NewIndex is the constructor for an Index.
func NewIndex[K comparable](pos func(order.OrderID) *int) *Index[K] {
	return &Index[K]{
		lists: make(map[K][]order.OrderID),
		pos:   pos,
	}
}

// Add appends the id to the key's list.
func (ix *Index[K]) Add(k K, id order.OrderID) {
	ids := ix.lists[k]
	*ix.pos(id) = len(ids)
	ix.lists[k] = append(ids, id)
}

// Remove takes the id out of the key's list, returning the position it
// occupied.
func (ix *Index[K]) Remove(k K, id order.OrderID) (int, error) {
	ids, i, err := removeAt(ix.lists[k], ix.pos, id)
	if err != nil {
		return -1, err
	}
	if len(ids) == 0 {
		delete(ix.lists, k)
	} else {
		ix.lists[k] = ids
	}
	return i, nil
}

// Restore undoes a Remove that returned position i. Undo steps must be run
// in the reverse order of the removals they undo.
func (ix *Index[K]) Restore(k K, id order.OrderID, i int) {
	ix.lists[k] = reinsertAt(ix.lists[k], ix.pos, id, i)
}

// Len is the number of ids for the key.
func (ix *Index[K]) Len(k K) int {
	return len(ix.lists[k])
}

// IDs returns a copy of the key's list.
func (ix *Index[K]) IDs(k K) []order.OrderID {
	ids := ix.lists[k]
	cp := make([]order.OrderID, len(ids))
	copy(cp, ids)
	return cp
}

// Keys is the number of keys with at least one id.
func (ix *Index[K]) Keys() int {
	return len(ix.lists)
}

// Verify checks that every member's stored position matches its slot.
func (ix *Index[K]) Verify() error {
	for k, ids := range ix.lists {
		if len(ids) == 0 {
			return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("empty list for key %v", k))
		}
		for i, id := range ids {
			p := ix.pos(id)
			if p == nil {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("order %v in index is not in the arena", id))
			}
			if *p != i {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("order %v at slot %d has stored position %d", id, i, *p))
			}
		}
	}
	return nil
}
