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
	"errors"
	"fmt"

	"gvisor.dev/vtlb/pkg/hostarch"
)

// ErrMalformedRecord is matched by every error returned for an invalid
// Record.
var ErrMalformedRecord = errors.New("malformed translation record")

// MalformedRecordError reports an invalid field in a Record.
type MalformedRecordError struct {
	// Index is the position of the record in the slice passed to
	// Deserialize, or -1 for a standalone conversion.
	Index int

	// Field names the invalid field.
	Field string

	// Value is the rejected value.
	Value uint64
}

// Error implements error.Error.
func (e *MalformedRecordError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: invalid %s %d", ErrMalformedRecord, e.Field, e.Value)
	}
	return fmt.Sprintf("%v: record %d: invalid %s %d", ErrMalformedRecord, e.Index, e.Field, e.Value)
}

// Is implements errors.Is.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Record is the serialized form of an Entry.
type Record struct {
	Linear      uint64
	Physical    uint64
	Supervisor  uint8
	User        uint8
	Global      bool
	PAT         hostarch.MemoryType
	MTRR        hostarch.MemoryType
	PageSizeKiB uint64
}

// RecordOf returns the serialized form of e.
func RecordOf(e Entry) Record {
	return Record{
		Linear:      uint64(e.Linear),
		Physical:    uint64(e.Physical),
		Supervisor:  e.Supervisor.Bits(),
		User:        e.User.Bits(),
		Global:      e.Global,
		PAT:         e.PAT,
		MTRR:        e.MTRR,
		PageSizeKiB: e.Size.KiB(),
	}
}

// check validates the enumerated fields of r.
func (r Record) check(index int) (PageSize, *MalformedRecordError) {
	if !r.PAT.Valid() {
		return 0, &MalformedRecordError{Index: index, Field: "PAT memory type", Value: uint64(r.PAT)}
	}
	if !r.MTRR.Valid() {
		return 0, &MalformedRecordError{Index: index, Field: "MTRR memory type", Value: uint64(r.MTRR)}
	}
	size, ok := PageSizeFromKiB(r.PageSizeKiB)
	if !ok {
		return 0, &MalformedRecordError{Index: index, Field: "page size (KiB)", Value: r.PageSizeKiB}
	}
	return size, nil
}

func (r Record) entry(size PageSize) Entry {
	return Entry{
		Linear:     hostarch.Addr(r.Linear),
		Physical:   hostarch.Addr(r.Physical),
		Size:       size,
		Global:     r.Global,
		User:       hostarch.AccessTypeFromBits(r.User),
		Supervisor: hostarch.AccessTypeFromBits(r.Supervisor),
		PAT:        r.PAT,
		MTRR:       r.MTRR,
	}
}

// Entry converts r back to an Entry. Access bits other than read, write and
// execute are ignored.
func (r Record) Entry() (Entry, error) {
	size, err := r.check(-1)
	if err != nil {
		return Entry{}, err
	}
	return r.entry(size), nil
}

// Serialize returns one record per resident page, in ForEach order.
func (c *Cache) Serialize() []Record {
	var records []Record
	c.ForEach(func(e Entry) bool {
		records = append(records, RecordOf(e))
		return true
	})
	return records
}

// Deserialize replaces the contents of the cache with records, inserted in
// order.
//
// Every record is validated before the cache is touched: if any record is
// malformed, a *MalformedRecordError naming it is returned and the cache is
// left unchanged.
func (c *Cache) Deserialize(records []Record) error {
	entries := make([]Entry, len(records))
	for i, r := range records {
		size, err := r.check(i)
		if err != nil {
			return err
		}
		entries[i] = r.entry(size)
	}

	if c.root.kind == slotTable {
		c.destroy(c.root.table)
	}
	c.root = slot{}
	for _, e := range entries {
		c.Insert(e)
	}
	return nil
}
