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

// Allocator is used to allocate and release tables.
type Allocator interface {
	// NewTable returns a new, empty table.
	NewTable() *Table

	// FreeTable releases a table. The table must not be referenced by the
	// tree any longer.
	//
	// FreeTable is not called for the tables dropped by FlushAll(false),
	// which discards the whole tree at once and leaves it to the garbage
	// collector. RemovePage and FlushAll(true) do call it.
	FreeTable(t *Table)
}

// maxPooledTables bounds the number of released tables kept for reuse.
const maxPooledTables = 64

// RuntimeAllocator is a trivial allocator backed by the Go heap, with a
// small pool of released tables to absorb insert/remove churn.
type RuntimeAllocator struct {
	pool []*Table
}

// NewRuntimeAllocator returns an allocator that uses the Go heap.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{}
}

// NewTable implements Allocator.NewTable.
func (r *RuntimeAllocator) NewTable() *Table {
	if n := len(r.pool); n > 0 {
		t := r.pool[n-1]
		r.pool[n-1] = nil
		r.pool = r.pool[:n-1]
		return t
	}
	return new(Table)
}

// FreeTable implements Allocator.FreeTable.
func (r *RuntimeAllocator) FreeTable(t *Table) {
	if len(r.pool) >= maxPooledTables {
		return
	}
	*t = Table{}
	r.pool = append(r.pool, t)
}

// Pooled returns the number of tables available for reuse.
func (r *RuntimeAllocator) Pooled() int {
	return len(r.pool)
}
