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

import (
	"gvisor.dev/vtlb/pkg/hostarch"
)

// RemovePage removes the page containing addr, whatever its size. Both halves
// of a 4MB page are removed together. Tables left empty are released, up to
// and including the PGD table.
//
// It returns the size of the removed page, so that the caller can compute the
// range to invalidate, and false if nothing was cached for addr.
func (c *Cache) RemovePage(addr hostarch.Addr) (PageSize, bool) {
	if c.root.kind != slotTable {
		return 0, false
	}
	size, ok := c.removeFrom(c.root.table, levelPGD, addr.Canonical())
	if ok && c.root.table.empty() {
		c.freeTable(c.root.table)
		c.root = slot{}
	}
	return size, ok
}

// removeFrom removes the page containing addr below t, releasing any child
// table that becomes empty on the way back up.
func (c *Cache) removeFrom(t *Table, lvl level, addr hostarch.Addr) (PageSize, bool) {
	i := lvl.index(addr)
	s := &t.slots[i]
	switch s.kind {
	case slotPage:
		size := s.page.size
		c.evict(t, i)
		return size, true
	case slotTable:
		child := s.table
		size, ok := c.removeFrom(child, lvl-1, addr)
		if ok && child.empty() {
			c.freeTable(child)
			t.clear(i)
		}
		return size, ok
	default:
		return 0, false
	}
}
