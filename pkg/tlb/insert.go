// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tlb

// Insert caches e, replacing anything that overlaps the slot or slots it
// occupies. Missing tables are allocated on the way down.
//
// e.Linear and e.Physical are aligned down to e.Size, and e.Linear is
// canonicalized.
//
// Insert returns true if a page or a table was displaced. The caller must
// then invalidate anything derived from the displaced translations.
func (c *Cache) Insert(e Entry) (evicted bool) {
	e = e.Normalized()
	nonGlobal := !e.Global

	if c.root.kind != slotTable {
		c.root = tableSlot(c.newTable(), nonGlobal)
	} else if nonGlobal {
		c.root.nonGlobal = true
	}

	// Walk to the table holding the terminal slot.
	t := c.root.table
	target := e.Size.level()
	for lvl := levelPGD; lvl > target; lvl-- {
		i := lvl.index(e.Linear)
		if s := &t.slots[i]; s.kind == slotTable {
			if nonGlobal {
				s.nonGlobal = true
			}
		} else {
			// A page covering this whole region must go, along with
			// its sibling if it is half of a 4MB page.
			if c.evict(t, i) {
				evicted = true
			}
			t.set(i, tableSlot(c.newTable(), nonGlobal))
		}
		t = t.slots[i].table
	}

	i := target.index(e.Linear)
	if e.Size == Size4M {
		return c.insertPair(t, i&^1, e) || evicted
	}
	if c.evict(t, i) {
		evicted = true
	}
	t.set(i, pageSlot(e, e.Physical))
	return evicted
}

// insertPair writes both halves of a 4MB page into slots even and even+1.
func (c *Cache) insertPair(t *Table, even int, e Entry) (evicted bool) {
	for half := 0; half < 2; half++ {
		if c.evict(t, even+half) {
			evicted = true
		}
	}
	t.set(even, pageSlot(e, e.Physical))
	t.set(even+1, pageSlot(e, e.Physical+pmdSize))
	return evicted
}
