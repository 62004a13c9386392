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

// Package hostarch describes properties of the emulated x86-64 paging
// architecture: linear addresses, page sizes, access types and memory types.
package hostarch

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the 2MB page size.
	HugePageShift = 21

	// HugePageSize is the 2MB page size.
	HugePageSize = 1 << HugePageShift

	// LargePageShift is the binary log of the legacy 4MB (PSE) page size.
	LargePageShift = 22

	// LargePageSize is the legacy 4MB page size.
	LargePageSize = 1 << LargePageShift

	// GiantPageShift is the binary log of the 1GB page size.
	GiantPageShift = 30

	// GiantPageSize is the 1GB page size.
	GiantPageSize = 1 << GiantPageShift

	// LinearAddressBits is the number of significant linear address bits
	// with 4-level paging. Bit LinearAddressBits-1 is sign-extended.
	LinearAddressBits = 48
)
