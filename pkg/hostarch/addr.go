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

package hostarch

import "fmt"

// Addr represents a linear or physical address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest multiple of
// size, which must be a power of two.
func (v Addr) RoundDown(size uint64) Addr {
	return AlignDown(v, Addr(size))
}

// RoundUp returns the address rounded up to the nearest multiple of size,
// which must be a power of two. ok is true iff rounding up did not wrap
// around.
func (v Addr) RoundUp(size uint64) (addr Addr, ok bool) {
	addr = AlignUp(v, Addr(size))
	ok = addr >= v
	return
}

// PageRoundDown returns the address rounded down to the nearest page
// boundary.
func (v Addr) PageRoundDown() Addr {
	return v.RoundDown(PageSize)
}

// HugeRoundDown returns the address rounded down to the nearest huge page
// boundary.
func (v Addr) HugeRoundDown() Addr {
	return v.RoundDown(HugePageSize)
}

// PageOffset returns the offset of v into its base page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & (PageSize - 1))
}

// Canonical returns v with bit LinearAddressBits-1 sign-extended into the
// upper bits, as the processor requires for linear addresses.
func (v Addr) Canonical() Addr {
	const shift = 64 - LinearAddressBits
	return Addr(int64(uint64(v)<<shift) >> shift)
}

// IsCanonical returns true if v is already in canonical form.
func (v Addr) IsCanonical() bool {
	return v == v.Canonical()
}

// AddrRange is a range of addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// RangeOf returns the range [start, start+length). The end saturates at the
// top of the address space.
func RangeOf(start Addr, length uint64) AddrRange {
	end := start + Addr(length)
	if end < start {
		end = ^Addr(0)
	}
	return AddrRange{Start: start, End: end}
}

// Length returns the length of the range.
func (ar AddrRange) Length() uint64 {
	return uint64(ar.End - ar.Start)
}

// WellFormed returns true if ar.Start <= ar.End.
func (ar AddrRange) WellFormed() bool {
	return ar.Start <= ar.End
}

// Contains returns true if ar contains addr.
func (ar AddrRange) Contains(addr Addr) bool {
	return ar.Start <= addr && addr < ar.End
}

// Overlaps returns true if ar and other share at least one address.
func (ar AddrRange) Overlaps(other AddrRange) bool {
	return ar.Start < other.End && other.Start < ar.End
}

// String implements fmt.Stringer.String.
func (ar AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(ar.Start), uint64(ar.End))
}
