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

// Package tlb implements a per-processor translation cache.
//
// The cache is a radix tree shaped like 4-level x86-64 paging: four levels of
// 512-entry tables indexed by 9 bits of the linear address each. Pages
// terminate the walk at the level matching their size: 1GB pages at the PUD
// level, 2MB pages at the PMD level and 4KB pages at the PTE level. Legacy 4MB
// pages occupy an aligned even/odd pair of PMD slots which are always written
// and removed together.
//
// Every table slot pointing at a child table carries a non-global bit which
// is set if any non-global page may live below it. The bit may be stale-true
// (it is only set on insert), but FlushAll(true) recomputes it exactly for
// every table it visits, and skips any subtree whose bit is clear.
//
// The cache is not a page table walker: callers perform their own walk and
// populate the cache with Insert. A Cache is not safe for concurrent use.
package tlb

import (
	"gvisor.dev/vtlb/pkg/hostarch"
)

const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift

	entriesPerPage = 512
	indexMask      = entriesPerPage - 1
)

// level identifies a table in the hierarchy by the number of levels left
// to walk, including itself.
type level int

const (
	levelPTE level = 1
	levelPMD level = 2
	levelPUD level = 3
	levelPGD level = 4
)

var levelShifts = [...]uint{
	levelPTE: pteShift,
	levelPMD: pmdShift,
	levelPUD: pudShift,
	levelPGD: pgdShift,
}

// index returns the slot index for addr in a table at this level.
func (l level) index(addr hostarch.Addr) int {
	return int(uint64(addr)>>levelShifts[l]) & indexMask
}

// base returns the linear address covered by slot i of a table at this
// level, relative to the table's own base.
func (l level) base(i int) hostarch.Addr {
	return hostarch.Addr(uint64(i) << levelShifts[l])
}

// Stats describes the table population of a Cache.
type Stats struct {
	// Tables is the number of tables currently owned by the cache.
	Tables uint64

	// TablesAllocated is the number of tables ever allocated.
	TablesAllocated uint64

	// TablesFreed is the number of tables ever released, including those
	// discarded by a full flush.
	TablesFreed uint64

	// SweepVisits is the number of tables descended into by FlushAll(true).
	SweepVisits uint64
}

// Cache is a translation cache.
type Cache struct {
	// Allocator is used to allocate tables.
	Allocator Allocator

	// root is the single slot above the PGD table. It is either empty or
	// points at the PGD table.
	root slot

	stats Stats
}

// New returns a new, empty cache. No tables are allocated until the first
// Insert.
func New(allocator Allocator) *Cache {
	if allocator == nil {
		allocator = NewRuntimeAllocator()
	}
	return &Cache{Allocator: allocator}
}

// Release tears down the tree. The cache remains usable and empty.
func (c *Cache) Release() {
	c.FlushAll(false)
}

// Stats returns table accounting for the cache.
func (c *Cache) Stats() Stats {
	return c.stats
}

// Empty returns true if the cache holds no pages.
func (c *Cache) Empty() bool {
	return c.root.kind == slotEmpty
}

// Len returns the number of resident pages. A 4MB page counts once.
func (c *Cache) Len() int {
	n := 0
	c.ForEach(func(Entry) bool {
		n++
		return true
	})
	return n
}

func (c *Cache) newTable() *Table {
	c.stats.Tables++
	c.stats.TablesAllocated++
	return c.Allocator.NewTable()
}

func (c *Cache) freeTable(t *Table) {
	c.stats.Tables--
	c.stats.TablesFreed++
	c.Allocator.FreeTable(t)
}

// destroy releases t and every table below it.
func (c *Cache) destroy(t *Table) {
	for i := range t.slots {
		if t.used == 0 {
			break
		}
		if t.slots[i].kind == slotTable {
			c.destroy(t.slots[i].table)
		}
		t.clear(i)
	}
	c.freeTable(t)
}

// evict destroys whatever lives in slot i of t. If the slot holds one half
// of a 4MB page, the other half is cleared as well. It returns true if the
// slot was occupied.
func (c *Cache) evict(t *Table, i int) bool {
	s := &t.slots[i]
	switch s.kind {
	case slotEmpty:
		return false
	case slotTable:
		c.destroy(s.table)
	case slotPage:
		if s.page.size == Size4M {
			t.clear(i ^ 1)
		}
	}
	t.clear(i)
	return true
}
