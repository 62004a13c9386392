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

	"gvisor.dev/vtlb/pkg/atomicbitops"
)

// Stats counts MMU events. Counters may be read from any goroutine.
type Stats struct {
	Hits          atomicbitops.Uint64
	Misses        atomicbitops.Uint64
	Faults        atomicbitops.Uint64
	Fills         atomicbitops.Uint64
	Replacements  atomicbitops.Uint64
	Invalidations atomicbitops.Uint64
	Flushes       atomicbitops.Uint64
}

// Counters is a point-in-time copy of Stats.
type Counters struct {
	Hits          uint64
	Misses        uint64
	Faults        uint64
	Fills         uint64
	Replacements  uint64
	Invalidations uint64
	Flushes       uint64
}

// Load returns the current counter values.
func (s *Stats) Load() Counters {
	return Counters{
		Hits:          s.Hits.Load(),
		Misses:        s.Misses.Load(),
		Faults:        s.Faults.Load(),
		Fills:         s.Fills.Load(),
		Replacements:  s.Replacements.Load(),
		Invalidations: s.Invalidations.Load(),
		Flushes:       s.Flushes.Load(),
	}
}

// String implements fmt.Stringer.String.
func (c Counters) String() string {
	return fmt.Sprintf("hits=%d misses=%d faults=%d fills=%d replacements=%d invalidations=%d flushes=%d",
		c.Hits, c.Misses, c.Faults, c.Fills, c.Replacements, c.Invalidations, c.Flushes)
}
