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

// Package mmu drives a translation cache on behalf of a processor.
//
// The MMU consults the cache on every access, walks the page tables through
// a Walker on a miss, and keeps a shadow cache of derived data coherent with
// the translations it was derived from.
package mmu

import (
	"fmt"
	"strconv"
	"time"

	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
	"gvisor.dev/vtlb/pkg/tlb/snapshot"
)

// RangeInvalidator drops data derived from a linear range.
type RangeInvalidator interface {
	InvalidateRange(r hostarch.AddrRange) int
	Clear()
}

// Config configures an MMU.
type Config struct {
	// Name identifies the processor in logs and snapshots.
	Name string

	// Walker resolves misses. It is required.
	Walker Walker

	// Listener observes events. If nil, events are dropped.
	Listener Listener

	// Shadow is kept coherent with the cache. It is optional.
	Shadow RangeInvalidator

	// Allocator is passed to tlb.New.
	Allocator tlb.Allocator

	// SnapshotKey is the HMAC key for Save and Restore.
	SnapshotKey []byte

	// SnapshotMetadata is added to the metadata of saved snapshots.
	SnapshotMetadata map[string]string

	// LockTimeout bounds how long Save and Restore wait for the snapshot
	// lock.
	LockTimeout time.Duration
}

// MMU owns one translation cache. It is not safe for concurrent use, except
// for Stats.
type MMU struct {
	cfg   Config
	cache *tlb.Cache
	stats Stats
}

// New returns an MMU with an empty cache.
func New(cfg Config) (*MMU, error) {
	if cfg.Walker == nil {
		return nil, fmt.Errorf("mmu %q: no walker", cfg.Name)
	}
	if cfg.Listener == nil {
		cfg.Listener = NoopListener{}
	}
	return &MMU{
		cfg:   cfg,
		cache: tlb.New(cfg.Allocator),
	}, nil
}

// Cache returns the underlying cache.
func (m *MMU) Cache() *tlb.Cache {
	return m.cache
}

// Stats returns the event counters.
func (m *MMU) Stats() *Stats {
	return &m.stats
}

func (m *MMU) fault(kind FaultKind, addr hostarch.Addr, access hostarch.AccessType, mode tlb.Mode, err error) *Fault {
	m.stats.Faults.Add(1)
	return &Fault{Kind: kind, Addr: addr, Access: access, Mode: mode, Err: err}
}

func (m *MMU) invalidateShadow(r hostarch.AddrRange) {
	if m.cfg.Shadow != nil {
		m.cfg.Shadow.InvalidateRange(r)
	}
}

// Translate returns the physical address for an access to addr.
//
// A cached translation that denies the access faults immediately; the page
// tables are not walked again. On a miss the walked translation is cached
// before the access is checked.
func (m *MMU) Translate(addr hostarch.Addr, access hostarch.AccessType, mode tlb.Mode) (hostarch.Addr, error) {
	tr, res := m.cache.Lookup(addr, access, mode)
	switch res {
	case tlb.Hit:
		m.stats.Hits.Add(1)
		return tr.Physical(), nil
	case tlb.PermissionDenied:
		return 0, m.fault(Protection, addr, access, mode, nil)
	}

	m.stats.Misses.Add(1)
	m.cfg.Listener.Miss(addr, access, mode)
	e, err := m.cfg.Walker.Walk(addr)
	if err != nil {
		return 0, m.fault(NotPresent, addr, access, mode, err)
	}
	if !e.Size.Valid() {
		return 0, m.fault(NotPresent, addr, access, mode, fmt.Errorf("walker returned invalid page size %v", e.Size))
	}
	e = e.Normalized()
	if !e.Contains(addr.Canonical()) {
		return 0, m.fault(NotPresent, addr, access, mode, fmt.Errorf("walker returned %v which does not cover the address", e))
	}
	m.fill(e)

	tr, res = m.cache.Lookup(addr, access, mode)
	if res != tlb.Hit {
		return 0, m.fault(Protection, addr, access, mode, nil)
	}
	return tr.Physical(), nil
}

// fill caches e and invalidates shadow data for anything it displaced.
func (m *MMU) fill(e tlb.Entry) {
	// Anything displaced either lies inside e, or is a larger page
	// containing e's base.
	stale := e.Range()
	if old, ok := m.cache.Find(e.Linear); ok && old.Entry.Size.Bytes() > e.Size.Bytes() {
		stale = old.Entry.Range()
	}
	if m.cache.Insert(e) {
		m.stats.Replacements.Add(1)
		m.invalidateShadow(stale)
		m.cfg.Listener.Replace(e)
		return
	}
	m.stats.Fills.Add(1)
	m.cfg.Listener.Fill(e)
}

// Prefetch caches e as if it had been walked, e.g. when the page tables are
// known to have been populated.
func (m *MMU) Prefetch(e tlb.Entry) error {
	if !e.Size.Valid() {
		return fmt.Errorf("invalid page size %v", e.Size)
	}
	m.fill(e.Normalized())
	return nil
}

// InvalidatePage removes the page containing addr, as INVLPG does.
func (m *MMU) InvalidatePage(addr hostarch.Addr) (tlb.PageSize, bool) {
	size, ok := m.cache.RemovePage(addr)
	if !ok {
		return 0, false
	}
	m.stats.Invalidations.Add(1)
	base := addr.Canonical().RoundDown(size.Bytes())
	m.invalidateShadow(hostarch.RangeOf(base, size.Bytes()))
	m.cfg.Listener.Invalidate(addr, size)
	return size, true
}

// Flush drops non-global translations, or all translations if keepGlobal is
// false. The shadow cache is always cleared.
func (m *MMU) Flush(keepGlobal bool) {
	m.cache.FlushAll(keepGlobal)
	if m.cfg.Shadow != nil {
		m.cfg.Shadow.Clear()
	}
	m.stats.Flushes.Add(1)
	m.cfg.Listener.Flush(keepGlobal)
}

// Save writes the cache contents to a snapshot file at path.
func (m *MMU) Save(path string) error {
	md := make(map[string]string, len(m.cfg.SnapshotMetadata)+2)
	for k, v := range m.cfg.SnapshotMetadata {
		md[k] = v
	}
	md["name"] = m.cfg.Name
	md["hits"] = strconv.FormatUint(m.stats.Hits.Load(), 10)
	return snapshot.WriteFile(path, m.cfg.SnapshotKey, md, m.cache.Serialize(), m.cfg.LockTimeout)
}

// Restore replaces the cache contents with the snapshot at path. On error
// the cache is unchanged.
func (m *MMU) Restore(path string) error {
	records, _, err := snapshot.ReadFile(path, m.cfg.SnapshotKey, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	if err := m.cache.Deserialize(records); err != nil {
		return fmt.Errorf("restoring %q: %w", path, err)
	}
	if m.cfg.Shadow != nil {
		m.cfg.Shadow.Clear()
	}
	return nil
}
