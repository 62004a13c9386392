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

import (
	"golang.org/x/exp/constraints"
)

// AlignDown rounds v down to a multiple of align, which must be a power of
// two.
func AlignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
// The result wraps around on overflow.
func AlignUp[T constraints.Unsigned](v, align T) T {
	return AlignDown(v+align-1, align)
}

// IsAligned returns true if v is a multiple of align, which must be a power
// of two.
func IsAligned[T constraints.Unsigned](v, align T) bool {
	return v&(align-1) == 0
}
