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

// ForEach calls fn for every resident page in ascending linear address order
// (treating addresses as unsigned), until fn returns false. A 4MB page is
// visited once.
//
// fn must not modify the cache.
func (c *Cache) ForEach(fn func(Entry) bool) {
	if c.root.kind != slotTable {
		return
	}
	c.walk(c.root.table, levelPGD, 0, fn)
}

// walk visits the pages below t. base is the linear address of slot 0.
func (c *Cache) walk(t *Table, lvl level, base hostarch.Addr, fn func(Entry) bool) bool {
	remaining := t.used
	for i := 0; i < entriesPerPage && remaining > 0; i++ {
		s := &t.slots[i]
		addr := base | lvl.base(i)
		switch s.kind {
		case slotEmpty:
			continue
		case slotTable:
			if !c.walk(s.table, lvl-1, addr, fn) {
				return false
			}
		case slotPage:
			// The lower half speaks for the pair.
			if s.page.size != Size4M || i&1 == 0 {
				if !fn(s.entry(addr.Canonical(), false)) {
					return false
				}
			}
		}
		remaining--
	}
	return true
}
