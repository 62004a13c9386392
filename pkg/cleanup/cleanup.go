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

// Package cleanup runs undo actions on error paths.
package cleanup

// Cleanup holds undo actions that run on Clean unless Release was called
// first. Usage:
//
//	f, err := os.CreateTemp(dir, "snapshot.tmp*")
//	...
//	cu := cleanup.Make(func() { os.Remove(f.Name()) })
//	defer cu.Clean() // Removes the temporary file on any early return.
//	...
//	cu.Release() // The file was renamed into place.
type Cleanup struct {
	cleaners []func()
}

// Make returns a Cleanup holding f.
func Make(f func()) Cleanup {
	return Cleanup{cleaners: []func(){f}}
}

// Add adds f. Actions run in the reverse of the order they were added.
func (c *Cleanup) Add(f func()) {
	c.cleaners = append(c.cleaners, f)
}

// Clean runs and forgets all actions.
func (c *Cleanup) Clean() {
	clean(c.cleaners)
	c.cleaners = nil
}

// Release forgets all actions without running them. The returned function
// runs them, for callers that hand the undo on to someone else.
func (c *Cleanup) Release() func() {
	old := c.cleaners
	c.cleaners = nil
	return func() { clean(old) }
}

func clean(cleaners []func()) {
	for i := len(cleaners) - 1; i >= 0; i-- {
		cleaners[i]()
	}
}
