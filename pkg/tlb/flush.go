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

// FlushAll removes cached translations.
//
// If keepGlobal is false, the whole tree is discarded without being walked.
//
// If keepGlobal is true, only non-global pages are removed. Subtrees whose
// non-global bit is clear hold only global pages and are not descended
// into. Every table that is visited has its bit recomputed from what
// remains, and is released if it became empty.
func (c *Cache) FlushAll(keepGlobal bool) {
	if !keepGlobal {
		// Tables are dropped rather than handed back to the allocator.
		c.stats.TablesFreed += c.stats.Tables
		c.stats.Tables = 0
		c.root = slot{}
		return
	}
	if c.root.kind != slotTable || !c.root.nonGlobal {
		return
	}
	c.root.nonGlobal = c.sweep(c.root.table)
	if c.root.table.empty() {
		c.freeTable(c.root.table)
		c.root = slot{}
	}
}

// sweep removes every non-global page below t and returns whether any
// non-global page remains, which is the new value of the bit for t.
func (c *Cache) sweep(t *Table) bool {
	c.stats.SweepVisits++
	nonGlobal := false
	for i := range t.slots {
		if t.empty() {
			break
		}
		s := &t.slots[i]
		switch s.kind {
		case slotPage:
			if s.nonGlobal {
				c.evict(t, i)
			}
		case slotTable:
			if !s.nonGlobal {
				continue
			}
			child := s.table
			s.nonGlobal = c.sweep(child)
			if child.empty() {
				c.freeTable(child)
				t.clear(i)
				continue
			}
			nonGlobal = nonGlobal || s.nonGlobal
		}
	}
	return nonGlobal
}
