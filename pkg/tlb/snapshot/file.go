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

package snapshot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/vtlb/pkg/cleanup"
	"gvisor.dev/vtlb/pkg/log"
	"gvisor.dev/vtlb/pkg/tlb"
)

// lockRetryInterval is the delay between attempts to take a snapshot lock.
const lockRetryInterval = 10 * time.Millisecond

// lockPath returns the path of the lock file guarding path.
func lockPath(path string) string {
	return path + ".lock"
}

// lock takes the lock guarding path, retrying until timeout expires. A zero
// timeout tries exactly once.
func lock(path string, shared bool, timeout time.Duration) (*flock.Flock, error) {
	l := flock.NewFlock(lockPath(path))
	op := func() error {
		var (
			ok  bool
			err error
		)
		if shared {
			ok, err = l.TryRLock()
		} else {
			ok, err = l.TryLock()
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("snapshot %q is locked", path)
		}
		return nil
	}
	retries := uint64(timeout / lockRetryInterval)
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(lockRetryInterval), retries)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("acquiring lock on %q: %w", lockPath(path), err)
	}
	return l, nil
}

// WriteFile atomically replaces the snapshot at path.
//
// The file is written next to path, synced and then renamed over it while
// holding an exclusive lock on path.lock.
func WriteFile(path string, key []byte, metadata map[string]string, records []tlb.Record, lockTimeout time.Duration) error {
	l, err := lock(path, false, lockTimeout)
	if err != nil {
		return err
	}
	defer l.Unlock()

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() {
		f.Close()
		if err := os.Remove(f.Name()); err != nil {
			log.Warningf("Failed to remove temporary snapshot %q: %v", f.Name(), err)
		}
	})
	defer cu.Clean()

	w := bufio.NewWriter(f)
	if err := Save(w, key, metadata, records); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}
	cu.Release()
	log.Debugf("Wrote snapshot %q with %d records", path, len(records))
	return nil
}

// ReadFile loads the snapshot at path while holding a shared lock on
// path.lock.
func ReadFile(path string, key []byte, lockTimeout time.Duration) ([]tlb.Record, map[string]string, error) {
	l, err := lock(path, true, lockTimeout)
	if err != nil {
		return nil, nil, err
	}
	defer l.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	records, md, err := Load(bufio.NewReader(f), key)
	if err != nil {
		return nil, nil, fmt.Errorf("loading snapshot %q: %w", path, err)
	}
	return records, md, nil
}
