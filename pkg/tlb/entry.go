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
	"fmt"

	"gvisor.dev/vtlb/pkg/hostarch"
)

// PageSize is the size class of a cached translation.
type PageSize uint8

const (
	// Size4K is a 4KB page, cached at the PTE level.
	Size4K PageSize = iota

	// Size2M is a 2MB page, cached at the PMD level.
	Size2M

	// Size4M is a legacy 4MB page, cached as an aligned pair of PMD slots.
	Size4M

	// Size1G is a 1GB page, cached at the PUD level.
	Size1G

	numPageSizes
)

// Valid returns true if ps is a known size class.
func (ps PageSize) Valid() bool {
	return ps < numPageSizes
}

// Bytes returns the size of the page in bytes.
func (ps PageSize) Bytes() uint64 {
	switch ps {
	case Size4K:
		return pteSize
	case Size2M:
		return pmdSize
	case Size4M:
		return 2 * pmdSize
	case Size1G:
		return pudSize
	default:
		panic(fmt.Sprintf("invalid page size %d", ps))
	}
}

// KiB returns the size of the page in KiB.
func (ps PageSize) KiB() uint64 {
	return ps.Bytes() >> 10
}

// PageSizeFromKiB returns the size class for a size given in KiB.
func PageSizeFromKiB(kib uint64) (PageSize, bool) {
	for ps := Size4K; ps < numPageSizes; ps++ {
		if ps.KiB() == kib {
			return ps, true
		}
	}
	return 0, false
}

// level returns the table level at which pages of this size terminate.
func (ps PageSize) level() level {
	switch ps {
	case Size4K:
		return levelPTE
	case Size2M, Size4M:
		return levelPMD
	default:
		return levelPUD
	}
}

// String implements fmt.Stringer.String.
func (ps PageSize) String() string {
	switch ps {
	case Size4K:
		return "4K"
	case Size2M:
		return "2M"
	case Size4M:
		return "4M"
	case Size1G:
		return "1G"
	default:
		return fmt.Sprintf("PageSize(%d)", uint8(ps))
	}
}

// Mode is the privilege level of an access.
type Mode uint8

const (
	// Supervisor is a kernel-mode access.
	Supervisor Mode = iota

	// User is a user-mode access.
	User
)

// String implements fmt.Stringer.String.
func (m Mode) String() string {
	if m == User {
		return "user"
	}
	return "supervisor"
}

// Entry is a cached translation.
type Entry struct {
	// Linear is the linear base of the page.
	Linear hostarch.Addr

	// Physical is the physical base of the page.
	Physical hostarch.Addr

	// Size is the page size class.
	Size PageSize

	// Global indicates that the translation survives FlushAll(true).
	Global bool

	// User is the set of accesses permitted in user mode.
	User hostarch.AccessType

	// Supervisor is the set of accesses permitted in supervisor mode.
	Supervisor hostarch.AccessType

	// PAT is the memory type selected by the page attribute table.
	PAT hostarch.MemoryType

	// MTRR is the memory type selected by the memory type range registers.
	MTRR hostarch.MemoryType
}

// Range returns the linear range mapped by e.
func (e Entry) Range() hostarch.AddrRange {
	return hostarch.RangeOf(e.Linear, e.Size.Bytes())
}

// Contains returns true if addr lies in the page described by e. e must be
// normalized and addr canonical. Unlike Range().Contains, this includes the
// last byte of a page ending at the top of the address space.
func (e Entry) Contains(addr hostarch.Addr) bool {
	return uint64(addr-e.Linear) < e.Size.Bytes()
}

// Rights returns the accesses permitted in the given mode.
func (e Entry) Rights(mode Mode) hostarch.AccessType {
	if mode == User {
		return e.User
	}
	return e.Supervisor
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	g := "-"
	if e.Global {
		g = "g"
	}
	return fmt.Sprintf("%v->%v %v %s u:%v s:%v pat:%s mtrr:%s",
		e.Linear, e.Physical, e.Size, g, e.User, e.Supervisor,
		e.PAT.ShortString(), e.MTRR.ShortString())
}

// Normalized returns e with Linear canonicalized and both bases aligned down
// to e.Size, as Insert stores it.
func (e Entry) Normalized() Entry {
	size := e.Size.Bytes()
	e.Linear = e.Linear.Canonical().RoundDown(size)
	e.Physical = e.Physical.RoundDown(size)
	return e
}

// Translation is the result of a successful lookup.
type Translation struct {
	// Entry is the page containing the looked up address. For a 4MB page
	// this is the whole page regardless of which half was hit.
	Entry Entry

	// Offset is the offset of the looked up address into Entry.
	Offset uint64
}

// Physical returns the translated physical address.
func (tr Translation) Physical() hostarch.Addr {
	return tr.Entry.Physical + hostarch.Addr(tr.Offset)
}

// Result is the outcome of a lookup.
type Result uint8

const (
	// Miss means no translation is cached for the address. The caller
	// should walk the page tables and Insert the result.
	Miss Result = iota

	// Hit means a translation was found and permits the access.
	Hit

	// PermissionDenied means a translation was found but does not permit
	// the access. This is a fault, not a miss.
	PermissionDenied
)

// String implements fmt.Stringer.String.
func (r Result) String() string {
	switch r {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case PermissionDenied:
		return "permission denied"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}
