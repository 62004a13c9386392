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

// Find returns the translation cached for addr, without checking access
// rights.
func (c *Cache) Find(addr hostarch.Addr) (Translation, bool) {
	if c.root.kind != slotTable {
		return Translation{}, false
	}
	addr = addr.Canonical()
	t := c.root.table
	for lvl := levelPGD; lvl >= levelPTE; lvl-- {
		i := lvl.index(addr)
		s := &t.slots[i]
		switch s.kind {
		case slotEmpty:
			return Translation{}, false
		case slotPage:
			// The page size says how many low bits are don't care.
			linear := addr.RoundDown(uint64(1) << levelShifts[lvl])
			e := s.entry(linear, i&1 == 1)
			return Translation{Entry: e, Offset: uint64(addr - e.Linear)}, true
		case slotTable:
			t = s.table
		}
	}
	panic("table found below the PTE level")
}

// Lookup returns the translation cached for addr and checks that it permits
// access in the given mode.
//
// A translation that exists but does not permit the access is reported as
// PermissionDenied along with the translation; it is not a miss.
func (c *Cache) Lookup(addr hostarch.Addr, access hostarch.AccessType, mode Mode) (Translation, Result) {
	tr, ok := c.Find(addr)
	if !ok {
		return Translation{}, Miss
	}
	if !tr.Entry.Rights(mode).SupersetOf(access) {
		return tr, PermissionDenied
	}
	return tr, Hit
}
