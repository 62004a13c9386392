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
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/vtlb/pkg/log"
	"gvisor.dev/vtlb/pkg/tlb"
	"gvisor.dev/vtlb/pkg/tlb/snapshot"
)

// Verify implements subcommands.Command for the "verify" command.
type Verify struct {
	jobs int
}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "checks that snapshots load into a translation cache"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return "verify [flags] <snapshot>... - checks integrity and records of every snapshot.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Verify) SetFlags(f *flag.FlagSet) {
	f.IntVar(&v.jobs, "j", runtime.NumCPU(), "number of snapshots to verify concurrently.")
}

// Execute implements subcommands.Command.Execute.
func (v *Verify) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	if err := v.verify(f.Args(), conf, os.Stdout); err != nil {
		log.Warningf("Verification failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// verifyResult describes one verified snapshot.
type verifyResult struct {
	pages  int
	tables uint64
	err    error
}

// verify loads every snapshot into its own cache and prints one line per
// path, in argument order. It returns the first error encountered.
func (v *Verify) verify(paths []string, conf *config, out io.Writer) error {
	results := make([]verifyResult, len(paths))
	var g errgroup.Group
	if v.jobs > 0 {
		g.SetLimit(v.jobs)
	}
	for i, path := range paths {
		g.Go(func() error {
			res := &results[i]
			records, _, err := snapshot.ReadFile(path, conf.key(), conf.LockTimeout.Duration)
			if err != nil {
				res.err = err
				return fmt.Errorf("%s: %w", path, err)
			}
			c := tlb.New(nil)
			defer c.Release()
			if err := c.Deserialize(records); err != nil {
				res.err = err
				return fmt.Errorf("%s: %w", path, err)
			}
			res.pages = c.Len()
			res.tables = c.Stats().Tables
			return nil
		})
	}
	err := g.Wait()
	for i, res := range results {
		if res.err != nil {
			fmt.Fprintf(out, "%s: FAIL: %v\n", paths[i], res.err)
			continue
		}
		fmt.Fprintf(out, "%s: ok, %d pages in %d tables\n", paths[i], res.pages, res.tables)
	}
	return err
}
