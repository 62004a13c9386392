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
	"bytes"
	"compress/flate"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testRecords() []tlb.Record {
	return []tlb.Record{
		{
			Linear:      0x7f0000001000,
			Physical:    0x200000,
			Supervisor:  hostarch.ReadWrite.Bits(),
			User:        hostarch.Read.Bits(),
			PAT:         hostarch.MemoryTypeWriteBack,
			MTRR:        hostarch.MemoryTypeWriteBack,
			PageSizeKiB: 4,
		},
		{
			Linear:      0xffff800000000000,
			Physical:    0x40000000,
			Supervisor:  hostarch.AnyAccess.Bits(),
			Global:      true,
			PAT:         hostarch.MemoryTypeUncacheable,
			MTRR:        hostarch.MemoryTypeInvalid,
			PageSizeKiB: 1 << 20,
		},
		{
			Linear:      0x400000,
			Physical:    0xc00000,
			Supervisor:  hostarch.ReadExecute.Bits(),
			User:        hostarch.ReadExecute.Bits(),
			PAT:         hostarch.MemoryTypeWriteThrough,
			MTRR:        hostarch.MemoryTypeWriteCombining,
			PageSizeKiB: 4096,
		},
	}
}

func TestSaveLoad(t *testing.T) {
	for _, tc := range []struct {
		name     string
		records  []tlb.Record
		metadata map[string]string
		key      []byte
	}{
		{
			name: "empty",
		},
		{
			name:     "records",
			records:  testRecords(),
			metadata: map[string]string{"cpu": "3"},
			key:      testKey,
		},
		{
			name:    "no key",
			records: testRecords(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Save(&buf, tc.key, tc.metadata, tc.records); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			raw := buf.Bytes()

			got, md, err := Load(bytes.NewReader(raw), tc.key)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(got) != len(tc.records) {
				t.Fatalf("Load returned %d records, want %d", len(got), len(tc.records))
			}
			if len(tc.records) > 0 {
				if diff := cmp.Diff(tc.records, got); diff != "" {
					t.Errorf("records mismatch (-want +got):\n%s", diff)
				}
			}
			for k, v := range tc.metadata {
				if md[k] != v {
					t.Errorf("metadata[%q] = %q, want %q", k, md[k], v)
				}
			}
			if md[RecordsKey] != strconv.Itoa(len(tc.records)) {
				t.Errorf("metadata[%q] = %q, want %d", RecordsKey, md[RecordsKey], len(tc.records))
			}
			if _, ok := md[TimestampKey]; !ok {
				t.Errorf("metadata is missing %q", TimestampKey)
			}

			unverified, err := MetadataUnsafe(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("MetadataUnsafe failed: %v", err)
			}
			if diff := cmp.Diff(md, unverified); diff != "" {
				t.Errorf("MetadataUnsafe mismatch (-Load +MetadataUnsafe):\n%s", diff)
			}
		})
	}
}

func TestReservedMetadata(t *testing.T) {
	var buf bytes.Buffer
	err := Save(&buf, testKey, map[string]string{"_records": "1"}, nil)
	if !errors.Is(err, ErrMetadataInvalid) {
		t.Errorf("Save with reserved key returned %v, want %v", err, ErrMetadataInvalid)
	}
}

func TestLoadErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := Save(&buf, testKey, nil, testRecords()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	good := buf.Bytes()

	for _, tc := range []struct {
		name string
		data func() []byte
		key  []byte
		want error
	}{
		{
			name: "wrong key",
			data: func() []byte { return good },
			key:  []byte("another key"),
			want: ErrHashMismatch,
		},
		{
			name: "flipped bit",
			data: func() []byte {
				b := bytes.Clone(good)
				b[len(b)/2] ^= 1
				return b
			},
			key:  testKey,
			want: ErrHashMismatch,
		},
		{
			name: "short",
			data: func() []byte { return good[:10] },
			key:  testKey,
			want: ErrTruncated,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Load(bytes.NewReader(tc.data()), tc.key); !errors.Is(err, tc.want) {
				t.Errorf("Load returned %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBadMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := Save(&buf, nil, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b := buf.Bytes()
	b[0] = 'x'
	if _, err := MetadataUnsafe(bytes.NewReader(b)); !errors.Is(err, ErrBadMagic) {
		t.Errorf("MetadataUnsafe returned %v, want %v", err, ErrBadMagic)
	}
}

func TestMalformedRecordsSurvive(t *testing.T) {
	// The file layer carries bad enumerations through untouched.
	bad := testRecords()
	bad[1].PAT = 3
	var buf bytes.Buffer
	if err := Save(&buf, testKey, nil, bad); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _, err := Load(&buf, testKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c := tlb.New(nil)
	err = c.Deserialize(got)
	var mre *tlb.MalformedRecordError
	if !errors.As(err, &mre) || mre.Index != 1 {
		t.Fatalf("Deserialize returned %v, want malformed record 1", err)
	}
	if !c.Empty() {
		t.Errorf("cache not empty after failed Deserialize")
	}
}

// sealedRecords builds a snapshot holding raw encoded records.
func sealedRecords(t *testing.T, raw [][recordSize]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	body.Write(magicHeader)
	if err := writeMetadataLen(&body, 2); err != nil {
		t.Fatalf("writeMetadataLen failed: %v", err)
	}
	body.WriteString("{}")
	fw, err := flate.NewWriter(&body, flate.BestSpeed)
	if err != nil {
		t.Fatalf("flate.NewWriter failed: %v", err)
	}
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(raw)))
	fw.Write(count[:])
	for _, r := range raw {
		fw.Write(r[:])
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("flate Close failed: %v", err)
	}
	h := hmac.New(sha256.New, testKey)
	h.Write(body.Bytes())
	return append(body.Bytes(), h.Sum(nil)...)
}

func TestLoadBadGlobalFlag(t *testing.T) {
	raw := make([][recordSize]byte, 3)
	for i, r := range testRecords() {
		putRecord(raw[i][:], r)
	}
	raw[2][18] = 2

	_, _, err := Load(bytes.NewReader(sealedRecords(t, raw)), testKey)
	var mre *tlb.MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("Load returned %v, want a malformed record", err)
	}
	if mre.Index != 2 || mre.Field != "global flag" || mre.Value != 2 {
		t.Errorf("Load returned %+v, want record 2 global flag 2", mre)
	}
	if !errors.Is(err, tlb.ErrMalformedRecord) {
		t.Errorf("error %v does not match %v", err, tlb.ErrMalformedRecord)
	}
	if errors.Is(err, ErrTruncated) {
		t.Errorf("error %v reports a truncated file", err)
	}

	// The same records with a valid flag load.
	raw[2][18] = 1
	got, _, err := Load(bytes.NewReader(sealedRecords(t, raw)), testKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got[2].Global {
		t.Errorf("record 2 not global: %+v", got[2])
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := tlb.New(nil)
	if err := c.Deserialize(testRecords()); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	want := c.Serialize()

	var buf bytes.Buffer
	if err := Save(&buf, testKey, nil, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _, err := Load(&buf, testKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	restored := tlb.New(nil)
	if err := restored.Deserialize(got); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if diff := cmp.Diff(want, restored.Serialize()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu0.snap")
	if err := WriteFile(path, testKey, map[string]string{"cpu": "0"}, testRecords(), time.Second); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	// Replace it; the second write must win.
	if err := WriteFile(path, testKey, nil, testRecords()[:1], time.Second); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, md, err := ReadFile(path, testKey, time.Second)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff(testRecords()[:1], got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if _, ok := md["cpu"]; ok {
		t.Errorf("stale metadata from the first write: %v", md)
	}

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "cpu0.snap" && e.Name() != "cpu0.snap.lock" {
			t.Errorf("unexpected file %q", e.Name())
		}
	}
}

func TestWriteFileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu0.snap")
	held := flock.NewFlock(lockPath(path))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer held.Unlock()

	if err := WriteFile(path, testKey, nil, testRecords(), 30*time.Millisecond); err == nil {
		t.Fatalf("WriteFile succeeded while the snapshot was locked")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot exists after failed write: %v", err)
	}
}
