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
	"errors"
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
)

// ErrNotMapped is returned by StaticWalker.Walk for unmapped addresses.
var ErrNotMapped = errors.New("address not mapped")

// Walker resolves translations on a miss. It is implemented by the owner of
// the page tables.
type Walker interface {
	// Walk returns the page mapping addr. The returned entry must cover
	// addr once aligned to its size.
	Walk(addr hostarch.Addr) (tlb.Entry, error)
}

// StaticWalker is a Walker over a fixed set of mappings, ordered by linear
// base.
type StaticWalker struct {
	mappings *btree.BTreeG[tlb.Entry]
}

func entryLess(a, b tlb.Entry) bool {
	return a.Linear < b.Linear
}

// NewStaticWalker returns an empty walker.
func NewStaticWalker() *StaticWalker {
	return &StaticWalker{mappings: btree.NewG(2, entryLess)}
}

// containing returns the mapping covering addr, if any.
func (w *StaticWalker) containing(addr hostarch.Addr) (tlb.Entry, bool) {
	var (
		found tlb.Entry
		ok    bool
	)
	w.mappings.DescendLessOrEqual(tlb.Entry{Linear: addr}, func(e tlb.Entry) bool {
		found, ok = e, e.Contains(addr)
		return false
	})
	return found, ok
}

// Map adds e. It fails if e overlaps an existing mapping.
func (w *StaticWalker) Map(e tlb.Entry) error {
	if !e.Size.Valid() {
		return fmt.Errorf("invalid page size %v", e.Size)
	}
	e = e.Normalized()
	r := e.Range()
	if prev, ok := w.containing(r.Start); ok {
		return fmt.Errorf("mapping %v overlaps %v", e, prev)
	}
	var next *tlb.Entry
	w.mappings.AscendGreaterOrEqual(e, func(other tlb.Entry) bool {
		next = &other
		return false
	})
	if next != nil && next.Linear < r.End {
		return fmt.Errorf("mapping %v overlaps %v", e, *next)
	}
	w.mappings.ReplaceOrInsert(e)
	return nil
}

// Unmap removes the mapping covering addr and returns it.
func (w *StaticWalker) Unmap(addr hostarch.Addr) (tlb.Entry, bool) {
	e, ok := w.containing(addr.Canonical())
	if !ok {
		return tlb.Entry{}, false
	}
	w.mappings.Delete(e)
	return e, true
}

// Len returns the number of mappings.
func (w *StaticWalker) Len() int {
	return w.mappings.Len()
}

// Walk implements Walker.Walk.
func (w *StaticWalker) Walk(addr hostarch.Addr) (tlb.Entry, error) {
	e, ok := w.containing(addr.Canonical())
	if !ok {
		return tlb.Entry{}, fmt.Errorf("%w: %v", ErrNotMapped, addr)
	}
	return e, nil
}
