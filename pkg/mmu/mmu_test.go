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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/log"
	"gvisor.dev/vtlb/pkg/tlb"
)

// countingWalker counts walks.
type countingWalker struct {
	*StaticWalker
	walks int
}

func (w *countingWalker) Walk(addr hostarch.Addr) (tlb.Entry, error) {
	w.walks++
	return w.StaticWalker.Walk(addr)
}

// recordingListener records events as strings.
type recordingListener struct {
	events []string
}

func (r *recordingListener) Fill(e tlb.Entry) {
	r.events = append(r.events, fmt.Sprintf("fill %v", e.Linear))
}

func (r *recordingListener) Replace(e tlb.Entry) {
	r.events = append(r.events, fmt.Sprintf("replace %v", e.Linear))
}

func (r *recordingListener) Invalidate(addr hostarch.Addr, size tlb.PageSize) {
	r.events = append(r.events, fmt.Sprintf("invalidate %v %v", addr, size))
}

func (r *recordingListener) Miss(addr hostarch.Addr, _ hostarch.AccessType, _ tlb.Mode) {
	r.events = append(r.events, fmt.Sprintf("miss %v", addr))
}

func (r *recordingListener) Flush(keepGlobal bool) {
	r.events = append(r.events, fmt.Sprintf("flush %t", keepGlobal))
}

func page(linear, physical hostarch.Addr, size tlb.PageSize, global bool, user hostarch.AccessType) tlb.Entry {
	return tlb.Entry{
		Linear:     linear,
		Physical:   physical,
		Size:       size,
		Global:     global,
		User:       user,
		Supervisor: hostarch.AnyAccess,
		PAT:        hostarch.MemoryTypeWriteBack,
		MTRR:       hostarch.MemoryTypeWriteBack,
	}
}

type fixture struct {
	walker   *countingWalker
	listener *recordingListener
	shadow   *ShadowCache[string]
	mmu      *MMU
}

func newFixture(t *testing.T, mappings ...tlb.Entry) *fixture {
	t.Helper()
	f := &fixture{
		walker:   &countingWalker{StaticWalker: NewStaticWalker()},
		listener: &recordingListener{},
		shadow:   NewShadowCache[string](),
	}
	for _, e := range mappings {
		if err := f.walker.Map(e); err != nil {
			t.Fatalf("Map(%v) failed: %v", e, err)
		}
	}
	m, err := New(Config{
		Name:        "cpu0",
		Walker:      f.walker,
		Listener:    f.listener,
		Shadow:      f.shadow,
		SnapshotKey: []byte("key"),
		LockTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.mmu = m
	return f
}

func TestNewRequiresWalker(t *testing.T) {
	if _, err := New(Config{Name: "cpu0"}); err == nil {
		t.Errorf("New without a walker succeeded")
	}
}

func TestTranslateMissThenHit(t *testing.T) {
	f := newFixture(t, page(0x1000, 0x5000, tlb.Size4K, false, hostarch.ReadWrite))

	for i := 0; i < 3; i++ {
		got, err := f.mmu.Translate(0x1234, hostarch.Read, tlb.User)
		if err != nil {
			t.Fatalf("Translate failed: %v", err)
		}
		if want := hostarch.Addr(0x5234); got != want {
			t.Errorf("Translate = %v, want %v", got, want)
		}
	}
	if f.walker.walks != 1 {
		t.Errorf("walks = %d, want 1", f.walker.walks)
	}
	want := Counters{Hits: 2, Misses: 1, Fills: 1}
	if diff := cmp.Diff(want, f.mmu.Stats().Load()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	wantEvents := []string{"miss 0x1234", "fill 0x1000"}
	if diff := cmp.Diff(wantEvents, f.listener.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateTopOfAddressSpace(t *testing.T) {
	for _, e := range []tlb.Entry{
		page(0xfffffffffffff000, 0x7000, tlb.Size4K, false, hostarch.Read),
		page(0xffffffffc0000000, 0x40000000, tlb.Size1G, false, hostarch.Read),
	} {
		t.Run(e.Size.String(), func(t *testing.T) {
			f := newFixture(t, e)
			const last = hostarch.Addr(0xffffffffffffffff)
			got, err := f.mmu.Translate(last, hostarch.Read, tlb.User)
			if err != nil {
				t.Fatalf("Translate(%v) failed: %v", last, err)
			}
			if want := e.Physical + hostarch.Addr(e.Size.Bytes()-1); got != want {
				t.Errorf("Translate(%v) = %v, want %v", last, got, want)
			}
			if f.walker.walks != 1 {
				t.Errorf("walks = %d, want 1", f.walker.walks)
			}
		})
	}
}

func TestTranslateNotPresent(t *testing.T) {
	f := newFixture(t)
	_, err := f.mmu.Translate(0x1000, hostarch.Read, tlb.Supervisor)
	var fault *Fault
	if !errors.As(err, &fault) || fault.Kind != NotPresent {
		t.Fatalf("Translate returned %v, want a not present fault", err)
	}
	if !errors.Is(err, ErrNotMapped) {
		t.Errorf("fault %v does not wrap %v", err, ErrNotMapped)
	}
	if !f.mmu.Cache().Empty() {
		t.Errorf("cache not empty after a failed walk")
	}
}

func TestTranslateProtectionDoesNotWalk(t *testing.T) {
	f := newFixture(t, page(0x200000, 0x400000, tlb.Size2M, false, hostarch.Read))

	// The first access walks and then fails the check.
	_, err := f.mmu.Translate(0x200010, hostarch.Write, tlb.User)
	var fault *Fault
	if !errors.As(err, &fault) || fault.Kind != Protection {
		t.Fatalf("Translate returned %v, want a protection fault", err)
	}
	// The second is denied from the cache.
	_, err = f.mmu.Translate(0x3fffff, hostarch.Write, tlb.User)
	if !errors.As(err, &fault) || fault.Kind != Protection {
		t.Fatalf("Translate returned %v, want a protection fault", err)
	}
	if f.walker.walks != 1 {
		t.Errorf("walks = %d, want 1", f.walker.walks)
	}
	// Supervisor mode may write.
	if _, err := f.mmu.Translate(0x3fffff, hostarch.Write, tlb.Supervisor); err != nil {
		t.Errorf("supervisor write failed: %v", err)
	}
	if got := f.mmu.Stats().Load().Faults; got != 2 {
		t.Errorf("faults = %d, want 2", got)
	}
}

func TestReplaceInvalidatesShadow(t *testing.T) {
	f := newFixture(t)
	m := f.mmu

	// A 2MB page with shadow data in it.
	if err := m.Prefetch(page(0x200000, 0x600000, tlb.Size2M, false, hostarch.AnyAccess)); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	f.shadow.Add(hostarch.RangeOf(0x3ff000, 0x100), "inside")
	f.shadow.Add(hostarch.RangeOf(0x400000, 0x100), "outside")

	// A 4KB page inside the 2MB page displaces all of it.
	if err := m.Prefetch(page(0x200000, 0x800000, tlb.Size4K, false, hostarch.AnyAccess)); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	if _, ok := f.shadow.Get(0x3ff010); ok {
		t.Errorf("shadow block inside the displaced page survived")
	}
	if v, ok := f.shadow.Get(0x400010); !ok || v != "outside" {
		t.Errorf("shadow block outside the displaced page = %q, %t", v, ok)
	}
	if got := m.Stats().Load().Replacements; got != 1 {
		t.Errorf("replacements = %d, want 1", got)
	}
	if _, ok := m.Cache().Find(0x3ff000); ok {
		t.Errorf("displaced 2MB page still cached")
	}
}

func TestInvalidatePage(t *testing.T) {
	f := newFixture(t, page(0x400000, 0x1000000, tlb.Size4M, false, hostarch.AnyAccess))
	m := f.mmu
	if _, err := m.Translate(0x400000, hostarch.Read, tlb.User); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	f.shadow.Add(hostarch.RangeOf(0x400000, 0x10), "low")
	f.shadow.Add(hostarch.RangeOf(0x7ff000, 0x10), "high")

	// Invalidating through the upper half drops the whole 4MB page.
	size, ok := m.InvalidatePage(0x600000)
	if !ok || size != tlb.Size4M {
		t.Fatalf("InvalidatePage = %v, %t, want 4M, true", size, ok)
	}
	if f.shadow.Len() != 0 {
		t.Errorf("shadow has %d blocks, want 0", f.shadow.Len())
	}
	if _, ok := m.InvalidatePage(0x600000); ok {
		t.Errorf("second InvalidatePage found a page")
	}
	if got := m.Stats().Load().Invalidations; got != 1 {
		t.Errorf("invalidations = %d, want 1", got)
	}
}

func TestFlush(t *testing.T) {
	f := newFixture(t,
		page(0x1000, 0x1000, tlb.Size4K, false, hostarch.Read),
		page(0xffffffff80000000, 0x0, tlb.Size2M, true, hostarch.NoAccess),
	)
	m := f.mmu
	for _, addr := range []hostarch.Addr{0x1000, 0xffffffff80000000} {
		if _, err := m.Translate(addr, hostarch.Read, tlb.Supervisor); err != nil {
			t.Fatalf("Translate(%v) failed: %v", addr, err)
		}
	}
	f.shadow.Add(hostarch.RangeOf(0x1000, 0x10), "code")

	m.Flush(true)
	if got := m.Cache().Len(); got != 1 {
		t.Errorf("Len after keep-global flush = %d, want 1", got)
	}
	if f.shadow.Len() != 0 {
		t.Errorf("shadow not cleared by flush")
	}
	m.Flush(false)
	if !m.Cache().Empty() {
		t.Errorf("cache not empty after full flush")
	}
	if got := m.Stats().Load().Flushes; got != 2 {
		t.Errorf("flushes = %d, want 2", got)
	}
}

func TestSaveRestore(t *testing.T) {
	f := newFixture(t,
		page(0x1000, 0x1000, tlb.Size4K, false, hostarch.Read),
		page(0x40000000, 0x80000000, tlb.Size1G, true, hostarch.ReadWrite),
	)
	m := f.mmu
	for _, addr := range []hostarch.Addr{0x1000, 0x40000000} {
		if _, err := m.Translate(addr, hostarch.Read, tlb.User); err != nil {
			t.Fatalf("Translate(%v) failed: %v", addr, err)
		}
	}
	path := filepath.Join(t.TempDir(), "cpu0.snap")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want := m.Cache().Serialize()

	m.Flush(false)
	if err := m.Restore(path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if diff := cmp.Diff(want, m.Cache().Serialize()); diff != "" {
		t.Errorf("restored cache mismatch (-want +got):\n%s", diff)
	}

	// Restoring with the wrong key leaves the cache alone.
	other, err := New(Config{Walker: f.walker, SnapshotKey: []byte("other"), LockTimeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := other.Restore(path); err == nil {
		t.Errorf("Restore with the wrong key succeeded")
	}
	if !other.Cache().Empty() {
		t.Errorf("cache modified by a failed Restore")
	}
}

func TestWalkerContract(t *testing.T) {
	// A walker returning an entry that does not cover the address.
	m, err := New(Config{Walker: badWalker{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = m.Translate(0x5000, hostarch.Read, tlb.User)
	var fault *Fault
	if !errors.As(err, &fault) || fault.Kind != NotPresent {
		t.Errorf("Translate returned %v, want a not present fault", err)
	}
	if !m.Cache().Empty() {
		t.Errorf("bad walk was cached")
	}
}

type badWalker struct{}

func (badWalker) Walk(hostarch.Addr) (tlb.Entry, error) {
	return page(0x9000, 0x9000, tlb.Size4K, false, hostarch.AnyAccess), nil
}

type captureEmitter struct {
	lines []string
}

func (c *captureEmitter) Emit(_ int, level log.Level, _ time.Time, format string, v ...any) {
	c.lines = append(c.lines, fmt.Sprintf("%v "+format, append([]any{level}, v...)...))
}

func TestLogListener(t *testing.T) {
	emitter := &captureEmitter{}
	logger := &log.BasicLogger{Level: log.Debug, Emitter: emitter}
	l := NewLogListener("cpu1", logger, time.Hour)

	// Only the first of these passes the rate limiter.
	for i := 0; i < 5; i++ {
		l.Miss(hostarch.Addr(i)<<12, hostarch.Read, tlb.User)
	}
	l.Invalidate(0x2000, tlb.Size4K)
	l.Flush(true)

	want := []string{
		"Debug cpu1: miss 0x0 r--/user",
		"Debug cpu1: invalidate 4K page at 0x2000",
		"Info cpu1: flushed non-global translations",
	}
	if diff := cmp.Diff(want, emitter.lines); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
	for _, line := range emitter.lines {
		if !strings.Contains(line, "cpu1") {
			t.Errorf("line %q lacks the listener name", line)
		}
	}
}
