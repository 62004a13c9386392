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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v2"
	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
)

// address is an address written as a string, so that the upper half of the
// address space fits. Any base accepted by strconv.ParseUint is allowed.
type address hostarch.Addr

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(string(text), "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", text, err)
	}
	*a = address(v)
	return nil
}

// parseAccess parses "rwx" style access strings. Any of the letters may be
// omitted or replaced by '-'.
func parseAccess(s string) (hostarch.AccessType, error) {
	var at hostarch.AccessType
	for _, c := range s {
		switch c {
		case 'r':
			at.Read = true
		case 'w':
			at.Write = true
		case 'x':
			at.Execute = true
		case '-':
		default:
			return at, fmt.Errorf("invalid access %q", s)
		}
	}
	return at, nil
}

func parsePageSize(s string) (tlb.PageSize, error) {
	for _, ps := range []tlb.PageSize{tlb.Size4K, tlb.Size2M, tlb.Size4M, tlb.Size1G} {
		if strings.EqualFold(s, ps.String()) {
			return ps, nil
		}
	}
	return 0, fmt.Errorf("invalid page size %q, must be one of 4K, 2M, 4M or 1G", s)
}

func parseMode(s string) (tlb.Mode, error) {
	switch s {
	case "user":
		return tlb.User, nil
	case "supervisor", "":
		return tlb.Supervisor, nil
	default:
		return 0, fmt.Errorf("invalid mode %q, must be user or supervisor", s)
	}
}

// mapping is a page the replayed page tables map.
type mapping struct {
	Linear     address `toml:"linear" yaml:"linear"`
	Physical   address `toml:"physical" yaml:"physical"`
	Size       string  `toml:"size" yaml:"size"`
	Global     bool    `toml:"global" yaml:"global"`
	User       string  `toml:"user" yaml:"user"`
	Supervisor string  `toml:"supervisor" yaml:"supervisor"`
	PAT        string  `toml:"pat" yaml:"pat"`
	MTRR       string  `toml:"mtrr" yaml:"mtrr"`
}

func (m *mapping) entry() (tlb.Entry, error) {
	e := tlb.Entry{
		Linear:   hostarch.Addr(m.Linear),
		Physical: hostarch.Addr(m.Physical),
		Global:   m.Global,
		PAT:      hostarch.MemoryTypeWriteBack,
		MTRR:     hostarch.MemoryTypeWriteBack,
	}
	var err error
	if e.Size, err = parsePageSize(m.Size); err != nil {
		return e, err
	}
	if e.User, err = parseAccess(m.User); err != nil {
		return e, err
	}
	if e.Supervisor, err = parseAccess(m.Supervisor); err != nil {
		return e, err
	}
	if m.PAT != "" {
		if e.PAT, err = hostarch.ParseMemoryType(m.PAT); err != nil {
			return e, err
		}
	}
	if m.MTRR != "" {
		if e.MTRR, err = hostarch.ParseMemoryType(m.MTRR); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Operation kinds.
const (
	opTranslate   = "translate"
	opInvalidate  = "invalidate"
	opFlush       = "flush"
	opFlushGlobal = "flush-global"
	opMap         = "map"
	opUnmap       = "unmap"
)

// op is one replayed event.
type op struct {
	Kind   string  `toml:"kind" yaml:"kind"`
	Addr   address `toml:"addr" yaml:"addr"`
	Access string  `toml:"access" yaml:"access"`
	Mode   string  `toml:"mode" yaml:"mode"`

	// Mapping is the page added by a "map" operation.
	Mapping *mapping `toml:"mapping" yaml:"mapping"`
}

// trace is a replay input file.
type trace struct {
	// Name identifies the replayed processor.
	Name     string    `toml:"name" yaml:"name"`
	Mappings []mapping `toml:"mapping" yaml:"mapping"`
	Ops      []op      `toml:"op" yaml:"op"`
}

// loadTrace reads and validates a trace file. Files ending in .yaml or .yml
// are YAML, anything else is TOML.
func loadTrace(path string) (*trace, error) {
	var (
		t   trace
		err error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = decodeYAML(path, &t)
	default:
		err = decodeTOML(path, &t)
	}
	if err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

func decodeTOML(path string, t *trace) error {
	md, err := toml.DecodeFile(path, t)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	return nil
}

func decodeYAML(path string, t *trace) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.SetStrict(true)
	if err := dec.Decode(t); err != nil {
		return fmt.Errorf("unable to decode %q: %w", path, err)
	}
	return nil
}

func (t *trace) validate() error {
	for i := range t.Mappings {
		if _, err := t.Mappings[i].entry(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	for i, o := range t.Ops {
		switch o.Kind {
		case opTranslate:
			if _, err := parseAccess(o.Access); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if _, err := parseMode(o.Mode); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		case opMap:
			if o.Mapping == nil {
				return fmt.Errorf("op %d: map without a mapping", i)
			}
			if _, err := o.Mapping.entry(); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		case opInvalidate, opFlush, opFlushGlobal, opUnmap:
		default:
			return fmt.Errorf("op %d: unknown kind %q", i, o.Kind)
		}
	}
	return nil
}
