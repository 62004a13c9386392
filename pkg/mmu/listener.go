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
	"time"

	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/log"
	"gvisor.dev/vtlb/pkg/tlb"
)

// Listener observes cache events. Methods are called synchronously from the
// MMU's goroutine.
type Listener interface {
	// Fill is called when a walked translation was cached without
	// displacing anything.
	Fill(e tlb.Entry)

	// Replace is called when caching e displaced other translations.
	Replace(e tlb.Entry)

	// Invalidate is called when a single page was removed.
	Invalidate(addr hostarch.Addr, size tlb.PageSize)

	// Miss is called before the page tables are walked.
	Miss(addr hostarch.Addr, access hostarch.AccessType, mode tlb.Mode)

	// Flush is called after the cache was flushed.
	Flush(keepGlobal bool)
}

// NoopListener ignores all events.
type NoopListener struct{}

// Fill implements Listener.Fill.
func (NoopListener) Fill(tlb.Entry) {}

// Replace implements Listener.Replace.
func (NoopListener) Replace(tlb.Entry) {}

// Invalidate implements Listener.Invalidate.
func (NoopListener) Invalidate(hostarch.Addr, tlb.PageSize) {}

// Miss implements Listener.Miss.
func (NoopListener) Miss(hostarch.Addr, hostarch.AccessType, tlb.Mode) {}

// Flush implements Listener.Flush.
func (NoopListener) Flush(bool) {}

// LogListener logs events at debug level. Misses and fills are frequent, so
// they go through a rate limited logger.
type LogListener struct {
	// Name prefixes every message, e.g. the processor name.
	Name string

	logger  log.Logger
	limited log.Logger
}

// NewLogListener returns a LogListener writing to logger. Misses and fills
// are logged at most once per every.
func NewLogListener(name string, logger log.Logger, every time.Duration) *LogListener {
	if logger == nil {
		logger = log.Log()
	}
	return &LogListener{
		Name:    name,
		logger:  logger,
		limited: log.RateLimitedLogger(logger, every),
	}
}

// Fill implements Listener.Fill.
func (l *LogListener) Fill(e tlb.Entry) {
	l.limited.Debugf("%s: fill %v", l.Name, e)
}

// Replace implements Listener.Replace.
func (l *LogListener) Replace(e tlb.Entry) {
	l.logger.Debugf("%s: replace %v", l.Name, e)
}

// Invalidate implements Listener.Invalidate.
func (l *LogListener) Invalidate(addr hostarch.Addr, size tlb.PageSize) {
	l.logger.Debugf("%s: invalidate %v page at %v", l.Name, size, addr)
}

// Miss implements Listener.Miss.
func (l *LogListener) Miss(addr hostarch.Addr, access hostarch.AccessType, mode tlb.Mode) {
	l.limited.Debugf("%s: miss %v %s/%s", l.Name, addr, access, mode)
}

// Flush implements Listener.Flush.
func (l *LogListener) Flush(keepGlobal bool) {
	if keepGlobal {
		l.logger.Infof("%s: flushed non-global translations", l.Name)
		return
	}
	l.logger.Infof("%s: flushed all translations", l.Name)
}
