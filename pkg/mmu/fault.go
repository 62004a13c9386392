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
	"fmt"

	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
)

// FaultKind is the reason a translation failed.
type FaultKind int

const (
	// NotPresent means the page tables do not map the address.
	NotPresent FaultKind = iota

	// Protection means the address is mapped but the mapping does not
	// permit the access.
	Protection
)

// String implements fmt.Stringer.String.
func (k FaultKind) String() string {
	switch k {
	case NotPresent:
		return "not present"
	case Protection:
		return "protection"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Fault is returned by Translate when an access cannot proceed. The owning
// processor is expected to deliver a page fault.
type Fault struct {
	Kind   FaultKind
	Addr   hostarch.Addr
	Access hostarch.AccessType
	Mode   tlb.Mode

	// Err is the walker error for NotPresent faults.
	Err error
}

// Error implements error.Error.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s fault: %s access to %v in %s mode: %v", f.Kind, f.Access, f.Addr, f.Mode, f.Err)
	}
	return fmt.Sprintf("%s fault: %s access to %v in %s mode", f.Kind, f.Access, f.Addr, f.Mode)
}

// Unwrap returns the walker error, if any.
func (f *Fault) Unwrap() error {
	return f.Err
}
