// Copyright 2025 The gVisor Authors.
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

// MemoryType specifies CPU memory access behavior, as selected by either the
// page attribute table (PAT) or the memory type range registers (MTRRs).
//
// Values match the x86 architectural encodings, so 2 and 3 are reserved.
type MemoryType uint8

const (
	// MemoryTypeUncacheable is strong uncacheable (UC). This is the zero
	// value, matching the reset state of both PAT and MTRRs.
	MemoryTypeUncacheable MemoryType = 0

	// MemoryTypeWriteCombining is write-combining (WC).
	MemoryTypeWriteCombining MemoryType = 1

	// MemoryTypeWriteThrough is write-through (WT).
	MemoryTypeWriteThrough MemoryType = 4

	// MemoryTypeWriteProtected is write-protected (WP).
	MemoryTypeWriteProtected MemoryType = 5

	// MemoryTypeWriteBack is write-back (WB).
	MemoryTypeWriteBack MemoryType = 6

	// MemoryTypeUncacheableMinus is uncacheable that may be overridden to
	// WC by the MTRRs (UC-). It is only produced by the PAT.
	MemoryTypeUncacheableMinus MemoryType = 7

	// MemoryTypeInvalid is recorded when no memory type applies, e.g. MTRRs
	// are disabled.
	MemoryTypeInvalid MemoryType = 8
)

// NumMemoryTypes is the number of valid memory types.
const NumMemoryTypes = 7

// Valid returns true if mt is one of the known encodings.
func (mt MemoryType) Valid() bool {
	switch mt {
	case MemoryTypeUncacheable, MemoryTypeWriteCombining, MemoryTypeWriteThrough,
		MemoryTypeWriteProtected, MemoryTypeWriteBack, MemoryTypeUncacheableMinus,
		MemoryTypeInvalid:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeUncacheable:
		return "Uncacheable"
	case MemoryTypeWriteCombining:
		return "WriteCombining"
	case MemoryTypeWriteThrough:
		return "WriteThrough"
	case MemoryTypeWriteProtected:
		return "WriteProtected"
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeUncacheableMinus:
		return "UncacheableMinus"
	case MemoryTypeInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a compact string representing the MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeUncacheable:
		return "UC"
	case MemoryTypeWriteCombining:
		return "WC"
	case MemoryTypeWriteThrough:
		return "WT"
	case MemoryTypeWriteProtected:
		return "WP"
	case MemoryTypeWriteBack:
		return "WB"
	case MemoryTypeUncacheableMinus:
		return "UC-"
	case MemoryTypeInvalid:
		return "--"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}

// ParseMemoryType parses the ShortString form of a memory type.
func ParseMemoryType(s string) (MemoryType, error) {
	for _, mt := range []MemoryType{
		MemoryTypeUncacheable, MemoryTypeWriteCombining, MemoryTypeWriteThrough,
		MemoryTypeWriteProtected, MemoryTypeWriteBack, MemoryTypeUncacheableMinus,
		MemoryTypeInvalid,
	} {
		if s == mt.ShortString() || s == mt.String() {
			return mt, nil
		}
	}
	return 0, fmt.Errorf("unknown memory type %q", s)
}
