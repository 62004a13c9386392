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

// Binary tlbctl replays memory access traces through a translation cache and
// inspects cache snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/vtlb/pkg/log"
)

// defaultLockTimeout is the snapshot lock timeout when none is configured.
const defaultLockTimeout = time.Second

var (
	configPath = flag.String("config", "", "path to a TOML configuration file.")
	logLevel   = flag.String("log-level", "", "overrides log_level from the configuration.")
	logFormat  = flag.String("log-format", "", "overrides log_format from the configuration.")
	logFile    = flag.String("log-file", "", "overrides log_file from the configuration.")
)

// startTime is used to name log files.
var startTime = time.Now()

// fatalf logs the error and returns the failure status for Execute.
func fatalf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "tlbctl: %s\n", msg)
	return subcommands.ExitFailure
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Replay), "")
	subcommands.Register(new(Inspect), "")
	subcommands.Register(new(Verify), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tlbctl: error loading config: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	if *logFormat != "" {
		conf.LogFormat = *logFormat
	}
	if *logFile != "" {
		conf.LogFile = *logFile
	}
	if err := conf.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tlbctl: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	if err := conf.setupLogging(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "tlbctl: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	const delimString = `**************** tlbctl ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %s, %d CPUs, PID %d", runtime.Version(), runtime.GOARCH, runtime.GOOS, runtime.NumCPU(), os.Getpid())
	log.Debugf("Host page size: %#x (%d bytes)", unix.Getpagesize(), unix.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	status := subcommands.Execute(context.Background(), conf)
	if status != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", status)
	}
	os.Exit(int(status))
}
