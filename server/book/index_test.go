// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package book

import (
	"bytes"
	"sort"
	"testing"

	"decred.org/nftdex/dex/order"
	"pgregory.net/rapid"
)

type tArena map[order.OrderID]*int

func (a tArena) pos(id order.OrderID) *int {
	return a[id]
}

func tID(i int) order.OrderID {
	var id order.OrderID
	id[0], id[1] = byte(i), byte(i>>8)
	return id
}

func TestRemoveAtSwapsLast(t *testing.T) {
	arena := make(tArena)
	ix := NewIndex[int](arena.pos)
	for i := 0; i < 4; i++ {
		arena[tID(i)] = new(int)
		ix.Add(0, tID(i))
	}
	pos, err := ix.Remove(0, tID(1))
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if pos != 1 {
		t.Fatalf("wrong removed position. expected 1, got %d", pos)
	}
	ids := ix.IDs(0)
	want := []order.OrderID{tID(0), tID(3), tID(2)}
	if len(ids) != len(want) {
		t.Fatalf("Incorrect number of ids. Got %d, expected %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("wrong id at slot %d", i)
		}
	}
	if *arena[tID(3)] != 1 {
		t.Fatalf("moved element has position %d, expected 1", *arena[tID(3)])
	}
	if err = ix.Verify(); err != nil {
		t.Fatal(err)
	}

	ix.Restore(0, tID(1), pos)
	ids = ix.IDs(0)
	for i := 0; i < 4; i++ {
		if ids[i] != tID(i) {
			t.Fatalf("Restore did not restore the original order at slot %d", i)
		}
	}
	if err = ix.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveMissing(t *testing.T) {
	arena := make(tArena)
	ix := NewIndex[int](arena.pos)
	if _, err := ix.Remove(0, tID(7)); err == nil {
		t.Fatalf("no error removing an unknown id")
	}
	arena[tID(1)] = new(int)
	ix.Add(0, tID(1))
	arena[tID(2)] = new(int)
	*arena[tID(2)] = 0 // claims slot 0, which belongs to tID(1)
	if _, err := ix.Remove(0, tID(2)); err == nil {
		t.Fatalf("no error removing an id that is not at its stored position")
	}
}

// TestIndexProperties runs random sequences of adds, removes and undo of the
// most recent removals, checking the position invariant after each step.
func TestIndexProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		arena := make(tArena)
		ix := NewIndex[int](arena.pos)
		members := make(map[order.OrderID]int) // id -> key
		type removal struct {
			key, pos int
			id       order.OrderID
			snapshot []order.OrderID
		}
		var undo []removal
		next := 0

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			switch op := rapid.IntRange(0, 2).Draw(t, "op"); {
			case op == 0 || len(members) == 0:
				key := rapid.IntRange(0, 3).Draw(t, "key")
				id := tID(next)
				next++
				arena[id] = new(int)
				ix.Add(key, id)
				members[id] = key
				undo = nil
			case op == 1:
				ids := make([]order.OrderID, 0, len(members))
				for id := range members {
					ids = append(ids, id)
				}
				// Sorted, so the drawn index is reproducible.
				sort.Slice(ids, func(i, j int) bool {
					return bytes.Compare(ids[i][:], ids[j][:]) < 0
				})
				id := ids[rapid.IntRange(0, len(ids)-1).Draw(t, "victim")]
				key := members[id]
				before := ix.IDs(key)
				pos, err := ix.Remove(key, id)
				if err != nil {
					t.Fatalf("Remove error: %v", err)
				}
				if before[pos] != id {
					t.Fatalf("returned position %d does not match the removed slot", pos)
				}
				if ix.Len(key) != len(before)-1 {
					t.Fatalf("Remove did not shrink the list")
				}
				delete(members, id)
				undo = append(undo, removal{key, pos, id, before})
			default:
				if len(undo) == 0 {
					continue
				}
				r := undo[len(undo)-1]
				undo = undo[:len(undo)-1]
				ix.Restore(r.key, r.id, r.pos)
				members[r.id] = r.key
				after := ix.IDs(r.key)
				if len(after) != len(r.snapshot) {
					t.Fatalf("Restore produced %d ids, expected %d", len(after), len(r.snapshot))
				}
				for i := range after {
					if after[i] != r.snapshot[i] {
						t.Fatalf("Restore did not reproduce the order before removal at slot %d", i)
					}
				}
			}
			if err := ix.Verify(); err != nil {
				t.Fatalf("invariant violated: %v", err)
			}
			var total int
			for k := 0; k < 4; k++ {
				total += ix.Len(k)
			}
			if total != len(members) {
				t.Fatalf("index holds %d ids, expected %d", total, len(members))
			}
		}
	})
}
