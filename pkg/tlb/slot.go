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

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotTable
	slotPage
)

// page is the payload of a terminal slot.
type page struct {
	// physical is the physical base of the region mapped by this slot. For
	// a 4MB page each half stores its own base.
	physical   hostarch.Addr
	size       PageSize
	user       hostarch.AccessType
	supervisor hostarch.AccessType
	pat        hostarch.MemoryType
	mtrr       hostarch.MemoryType
}

// slot is one entry of a table.
//
// Slots are only built by tableSlot and pageSlot, and only stored through
// Table.set, so the kind always agrees with the payload.
type slot struct {
	kind slotKind

	// nonGlobal has a different meaning per kind. For a table it is set if
	// a non-global page may exist anywhere below. For a page it is set if
	// this page is not global.
	nonGlobal bool

	// table is valid iff kind == slotTable.
	table *Table

	// page is valid iff kind == slotPage.
	page page
}

func tableSlot(t *Table, nonGlobal bool) slot {
	return slot{kind: slotTable, nonGlobal: nonGlobal, table: t}
}

// pageSlot builds a terminal slot for e, mapping physical.
func pageSlot(e Entry, physical hostarch.Addr) slot {
	return slot{
		kind:      slotPage,
		nonGlobal: !e.Global,
		page: page{
			physical:   physical,
			size:       e.Size,
			user:       e.User,
			supervisor: e.Supervisor,
			pat:        e.PAT,
			mtrr:       e.MTRR,
		},
	}
}

// entry rebuilds the logical entry for a page slot. linear is the linear
// base of the slot; odd is set for the upper half of a 4MB page.
func (s *slot) entry(linear hostarch.Addr, odd bool) Entry {
	physical := s.page.physical
	if s.page.size == Size4M && odd {
		linear -= pmdSize
		physical -= pmdSize
	}
	return Entry{
		Linear:     linear,
		Physical:   physical,
		Size:       s.page.size,
		Global:     !s.nonGlobal,
		User:       s.page.user,
		Supervisor: s.page.supervisor,
		PAT:        s.page.pat,
		MTRR:       s.page.mtrr,
	}
}

// Table is a collection of slots for one level of the tree.
type Table struct {
	slots [entriesPerPage]slot

	// used is the number of non-empty slots.
	used int
}

// set stores s into slot i, keeping the occupancy count.
func (t *Table) set(i int, s slot) {
	wasEmpty := t.slots[i].kind == slotEmpty
	isEmpty := s.kind == slotEmpty
	switch {
	case wasEmpty && !isEmpty:
		t.used++
	case !wasEmpty && isEmpty:
		t.used--
	}
	t.slots[i] = s
}

// clear empties slot i without releasing anything it points to.
func (t *Table) clear(i int) {
	t.set(i, slot{})
}

// empty returns true if no slot is occupied.
func (t *Table) empty() bool {
	return t.used == 0
}
