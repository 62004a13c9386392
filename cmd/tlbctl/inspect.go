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
	"sort"

	"github.com/google/subcommands"
	"gvisor.dev/vtlb/pkg/tlb"
	"gvisor.dev/vtlb/pkg/tlb/snapshot"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	metadataOnly bool
	get          string
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "shows the contents of a translation cache snapshot"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return "inspect [flags] <snapshot> - prints the metadata and records of a snapshot.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.metadataOnly, "metadata", false, "only print the metadata, without checking the integrity key.")
	f.StringVar(&i.get, "get", "", "extracts the given metadata key.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	if err := i.inspect(f.Arg(0), conf, os.Stdout); err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (i *Inspect) inspect(path string, conf *config, out io.Writer) error {
	var (
		records  []tlb.Record
		metadata map[string]string
		err      error
	)
	if i.metadataOnly || i.get != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if metadata, err = snapshot.MetadataUnsafe(f); err != nil {
			return fmt.Errorf("reading metadata: %w", err)
		}
	} else {
		records, metadata, err = snapshot.ReadFile(path, conf.key(), conf.LockTimeout.Duration)
		if err != nil {
			return err
		}
	}

	if i.get != "" {
		val, ok := metadata[i.get]
		if !ok {
			return fmt.Errorf("metadata key %s: not found", i.get)
		}
		fmt.Fprintf(out, "%s\n", val)
		return nil
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, metadata[k])
	}
	if i.metadataOnly {
		return nil
	}
	for n, r := range records {
		e, err := r.Entry()
		if err != nil {
			fmt.Fprintf(out, "%d: %+v: %v\n", n, r, err)
			continue
		}
		fmt.Fprintf(out, "%d: %v\n", n, e)
	}
	return nil
}
