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
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gvisor.dev/vtlb/pkg/log"
)

// config is the configuration for tlbctl.
type config struct {
	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFormat is one of "text", "json" or "json-k8s".
	LogFormat string `toml:"log_format"`

	// LogFile, if set, receives logs instead of stderr. %TIMESTAMP% and
	// %COMMAND% are replaced with the start time and subcommand.
	LogFile string `toml:"log_file"`

	// SnapshotKey is the HMAC key used for snapshot files.
	SnapshotKey string `toml:"snapshot_key"`

	// LockTimeout bounds the wait for a snapshot lock, e.g. "500ms".
	LockTimeout duration `toml:"lock_timeout"`

	// Metadata is added to every snapshot written.
	Metadata map[string]string `toml:"metadata"`
}

// duration is a time.Duration written as a string, e.g. "250ms".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// defaultConfig is copied by loadConfig before the file is applied.
var defaultConfig = config{
	LogLevel:    "warning",
	LogFormat:   "text",
	LockTimeout: duration{Duration: defaultLockTimeout},
	Metadata: map[string]string{
		"writer": "tlbctl",
	},
}

// loadConfig loads the tlbctl configuration from path. An empty path yields
// the defaults.
func loadConfig(path string) (*config, error) {
	c := deepcopy.Copy(&defaultConfig).(*config)
	if path == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := log.NewEmitter(c.LogFormat, os.Stderr); err != nil {
		return err
	}
	if c.LockTimeout.Duration < 0 {
		return fmt.Errorf("negative lock_timeout %v", c.LockTimeout)
	}
	return nil
}

// key returns the snapshot key, or nil if none is configured.
func (c *config) key() []byte {
	if c.SnapshotKey == "" {
		return nil
	}
	return []byte(c.SnapshotKey)
}

// setupLogging points the global logger at the configured destination.
func (c *config) setupLogging(command string) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	out := os.Stderr
	if c.LogFile != "" {
		f, err := log.OpenFile(c.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.CommandFileOpts{
			Command: command,
			Start:   startTime,
		})
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}
	emitter, err := log.NewEmitter(c.LogFormat, out)
	if err != nil {
		return err
	}
	log.SetTarget(emitter)
	log.SetLevel(level)
	return nil
}

// Log logs the configuration, without the snapshot key.
func (c *config) Log() {
	log.Infof("Config:")
	log.Infof("  log_level: %s", c.LogLevel)
	log.Infof("  log_format: %s", c.LogFormat)
	log.Infof("  lock_timeout: %v", c.LockTimeout)
	log.Infof("  snapshot_key set: %t", c.SnapshotKey != "")
	for k, v := range c.Metadata {
		log.Debugf("  metadata %s=%s", k, v)
	}
}
