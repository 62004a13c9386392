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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/log"
	"gvisor.dev/vtlb/pkg/mmu"
)

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	save    string
	restore string
	quiet   bool
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string {
	return "replay"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string {
	return "replays a memory access trace through a translation cache"
}

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [flags] <trace.toml|trace.yaml> - replays the operations in a trace.

A trace lists the pages mapped by the page tables and a sequence of
operations:

  name = "cpu0"

  [[mapping]]
  linear = "0x400000"
  physical = "0x1000000"
  size = "2M"
  user = "r-x"
  supervisor = "rwx"

  [[op]]
  kind = "translate"    # or invalidate, flush, flush-global, map, unmap
  addr = "0x400123"
  access = "r"
  mode = "user"

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.save, "save", "", "write a snapshot of the cache to this path after the replay.")
	f.StringVar(&r.restore, "restore", "", "load the cache from this snapshot before the replay.")
	f.BoolVar(&r.quiet, "quiet", false, "only print the final statistics.")
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)

	t, err := loadTrace(f.Arg(0))
	if err != nil {
		return fatalf("loading trace: %v", err)
	}
	out := io.Writer(os.Stdout)
	if r.quiet {
		out = io.Discard
	}
	counters, err := r.run(t, conf, out)
	if err != nil {
		return fatalf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "%s\n", counters)
	return subcommands.ExitSuccess
}

// run replays t, writing one line per operation to out.
func (r *Replay) run(t *trace, conf *config, out io.Writer) (mmu.Counters, error) {
	name := t.Name
	if name == "" {
		name = "cpu0"
	}
	walker := mmu.NewStaticWalker()
	for i := range t.Mappings {
		e, err := t.Mappings[i].entry()
		if err != nil {
			return mmu.Counters{}, err
		}
		if err := walker.Map(e); err != nil {
			return mmu.Counters{}, fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	m, err := mmu.New(mmu.Config{
		Name:             name,
		Walker:           walker,
		Listener:         mmu.NewLogListener(name, nil, time.Second),
		Shadow:           mmu.NewShadowCache[struct{}](),
		SnapshotKey:      conf.key(),
		SnapshotMetadata: conf.Metadata,
		LockTimeout:      conf.LockTimeout.Duration,
	})
	if err != nil {
		return mmu.Counters{}, err
	}
	if r.restore != "" {
		if err := m.Restore(r.restore); err != nil {
			return mmu.Counters{}, err
		}
		log.Infof("Restored %d pages from %q", m.Cache().Len(), r.restore)
	}

	for i, o := range t.Ops {
		if err := replayOp(m, walker, o, out); err != nil {
			return mmu.Counters{}, fmt.Errorf("op %d: %w", i, err)
		}
	}

	if r.save != "" {
		if err := m.Save(r.save); err != nil {
			return mmu.Counters{}, err
		}
		log.Infof("Saved %d pages to %q", m.Cache().Len(), r.save)
	}
	cs := m.Cache().Stats()
	log.Debugf("Tables: %d live, %d allocated, %d freed, %d swept", cs.Tables, cs.TablesAllocated, cs.TablesFreed, cs.SweepVisits)
	return m.Stats().Load(), nil
}

// replayOp applies o. Faults are reported on out, not returned.
func replayOp(m *mmu.MMU, walker *mmu.StaticWalker, o op, out io.Writer) error {
	addr := hostarch.Addr(o.Addr)
	switch o.Kind {
	case opTranslate:
		access, err := parseAccess(o.Access)
		if err != nil {
			return err
		}
		mode, err := parseMode(o.Mode)
		if err != nil {
			return err
		}
		phys, err := m.Translate(addr, access, mode)
		var fault *mmu.Fault
		switch {
		case err == nil:
			fmt.Fprintf(out, "translate %v %s %s: %v\n", addr, access, mode, phys)
		case errors.As(err, &fault):
			fmt.Fprintf(out, "translate %v %s %s: %s fault\n", addr, access, mode, fault.Kind)
		default:
			return err
		}
	case opInvalidate:
		if size, ok := m.InvalidatePage(addr); ok {
			fmt.Fprintf(out, "invalidate %v: %v\n", addr, size)
		} else {
			fmt.Fprintf(out, "invalidate %v: none\n", addr)
		}
	case opFlush:
		m.Flush(false)
		fmt.Fprintf(out, "flush: %d pages left\n", m.Cache().Len())
	case opFlushGlobal:
		m.Flush(true)
		fmt.Fprintf(out, "flush-global: %d pages left\n", m.Cache().Len())
	case opMap:
		e, err := o.Mapping.entry()
		if err != nil {
			return err
		}
		if err := walker.Map(e); err != nil {
			return err
		}
		fmt.Fprintf(out, "map %v\n", e.Normalized())
	case opUnmap:
		if e, ok := walker.Unmap(addr); ok {
			fmt.Fprintf(out, "unmap %v: %v\n", addr, e.Size)
		} else {
			fmt.Fprintf(out, "unmap %v: none\n", addr)
		}
	default:
		return fmt.Errorf("unknown kind %q", o.Kind)
	}
	return nil
}
