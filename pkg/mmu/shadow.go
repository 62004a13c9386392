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

package mmu

import (
	"github.com/google/btree"
	"gvisor.dev/vtlb/pkg/hostarch"
)

// shadowBlock is a value derived from the linear range it covers.
type shadowBlock[T any] struct {
	r     hostarch.AddrRange
	value T
}

// ShadowCache holds values derived from translated memory, such as decoded
// instruction blocks, keyed by the linear range they were derived from.
// Blocks never overlap. It must be invalidated whenever translations for its
// ranges change.
type ShadowCache[T any] struct {
	blocks *btree.BTreeG[shadowBlock[T]]
}

// NewShadowCache returns an empty cache.
func NewShadowCache[T any]() *ShadowCache[T] {
	return &ShadowCache[T]{
		blocks: btree.NewG(16, func(a, b shadowBlock[T]) bool {
			return a.r.Start < b.r.Start
		}),
	}
}

func (s *ShadowCache[T]) key(addr hostarch.Addr) shadowBlock[T] {
	return shadowBlock[T]{r: hostarch.AddrRange{Start: addr}}
}

// Add stores value for r, dropping any block that overlaps it. Empty ranges
// are ignored.
func (s *ShadowCache[T]) Add(r hostarch.AddrRange, value T) {
	if r.Length() == 0 || !r.WellFormed() {
		return
	}
	s.InvalidateRange(r)
	s.blocks.ReplaceOrInsert(shadowBlock[T]{r: r, value: value})
}

// Get returns the value of the block containing addr.
func (s *ShadowCache[T]) Get(addr hostarch.Addr) (T, bool) {
	var (
		value T
		ok    bool
	)
	s.blocks.DescendLessOrEqual(s.key(addr), func(b shadowBlock[T]) bool {
		// RangeOf saturates at the top of the address space, so a block
		// ending there also holds the last byte.
		if b.r.Contains(addr) || (addr == ^hostarch.Addr(0) && b.r.End == addr && b.r.Start < addr) {
			value, ok = b.value, true
		}
		return false
	})
	return value, ok
}

// InvalidateRange drops every block overlapping r and returns how many were
// dropped.
func (s *ShadowCache[T]) InvalidateRange(r hostarch.AddrRange) int {
	var doomed []shadowBlock[T]
	// At most one block starting below r can reach into it.
	s.blocks.DescendLessOrEqual(s.key(r.Start), func(b shadowBlock[T]) bool {
		if b.r.Start == r.Start {
			return true
		}
		if b.r.Overlaps(r) {
			doomed = append(doomed, b)
		}
		return false
	})
	s.blocks.AscendRange(s.key(r.Start), s.key(r.End), func(b shadowBlock[T]) bool {
		doomed = append(doomed, b)
		return true
	})
	for _, b := range doomed {
		s.blocks.Delete(b)
	}
	return len(doomed)
}

// Clear drops every block.
func (s *ShadowCache[T]) Clear() {
	s.blocks.Clear(false)
}

// Len returns the number of blocks.
func (s *ShadowCache[T]) Len() int {
	return s.blocks.Len()
}
