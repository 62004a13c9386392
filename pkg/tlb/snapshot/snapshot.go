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

// Package snapshot defines the translation cache snapshot file.
//
// The file format is defined as follows.
//
// /------------------------------------------------------\
// |                   header (8-bytes)                   |
// +------------------------------------------------------+
// |              metadata length (8-bytes)               |
// +------------------------------------------------------+
// |                       metadata                       |
// +------------------------------------------------------+
// |                 compressed record data               |
// +------------------------------------------------------+
// |                 HMAC-SHA256 (32-bytes)               |
// \------------------------------------------------------/
//
// The header is the 8-byte sequence "vTLBsnap".
//
// The header is followed by an 8-byte length N (big endian), and an
// ASCII-encoded JSON map that is exactly N bytes long. The map includes only
// strings for keys and strings for values. Keys in the map that begin with
// "_" are for internal use only. They may be read, but may not be provided by
// the user.
//
// The record data is a flate stream holding an 8-byte record count followed
// by that many fixed-size records, all big endian:
//
//	linear base       8 bytes
//	physical base     8 bytes
//	supervisor access 1 byte  (bit 0 read, bit 1 write, bit 2 execute)
//	user access       1 byte
//	global            1 byte  (0 or 1)
//	PAT memory type   1 byte
//	MTRR memory type  1 byte
//	page size in KiB  8 bytes
//
// The trailing HMAC covers everything before it.
//
// A global byte other than 0 or 1 is reported by Load as a
// *tlb.MalformedRecordError. Other enumerated fields are not validated here:
// tlb.Cache.Deserialize rejects malformed records without modifying the cache.
package snapshot

import (
	"bytes"
	"compress/flate"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gvisor.dev/vtlb/pkg/hostarch"
	"gvisor.dev/vtlb/pkg/tlb"
)

// maxMetadataSize is the size limit of metadata section.
const maxMetadataSize = 16 * 1024 * 1024

// recordSize is the encoded size of one record.
const recordSize = 8 + 8 + 1 + 1 + 1 + 1 + 1 + 8

// magicHeader is the byte sequence beginning each file.
var magicHeader = []byte("vTLBsnap")

// ErrBadMagic is returned if the header does not match.
var ErrBadMagic = fmt.Errorf("bad magic header")

// ErrInvalidMetadataLength is returned if the metadata length is too large.
var ErrInvalidMetadataLength = fmt.Errorf("metadata length invalid, maximum size is %d", maxMetadataSize)

// ErrMetadataInvalid is returned if passed metadata is invalid.
var ErrMetadataInvalid = fmt.Errorf("metadata invalid, can't start with _")

// ErrHashMismatch is returned if the file does not match its HMAC.
var ErrHashMismatch = errors.New("snapshot hash mismatch")

// ErrTruncated is returned if the file ends early or holds trailing data.
var ErrTruncated = errors.New("snapshot truncated or corrupt")

// Metadata keys set by Save.
const (
	TimestampKey = "_timestamp"
	RecordsKey   = "_records"
)

func writeMetadataLen(w io.Writer, val uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return err
}

func putRecord(b []byte, r tlb.Record) {
	binary.BigEndian.PutUint64(b[0:], r.Linear)
	binary.BigEndian.PutUint64(b[8:], r.Physical)
	b[16] = r.Supervisor
	b[17] = r.User
	b[18] = 0
	if r.Global {
		b[18] = 1
	}
	b[19] = uint8(r.PAT)
	b[20] = uint8(r.MTRR)
	binary.BigEndian.PutUint64(b[21:], r.PageSizeKiB)
}

// getRecord decodes the record at position index.
func getRecord(b []byte, index int) (tlb.Record, error) {
	if b[18] > 1 {
		return tlb.Record{}, &tlb.MalformedRecordError{Index: index, Field: "global flag", Value: uint64(b[18])}
	}
	return tlb.Record{
		Linear:      binary.BigEndian.Uint64(b[0:]),
		Physical:    binary.BigEndian.Uint64(b[8:]),
		Supervisor:  b[16],
		User:        b[17],
		Global:      b[18] == 1,
		PAT:         hostarch.MemoryType(b[19]),
		MTRR:        hostarch.MemoryType(b[20]),
		PageSizeKiB: binary.BigEndian.Uint64(b[21:]),
	}, nil
}

// Save writes a snapshot of records to w.
//
// key is used for the HMAC; it may be empty.
func Save(w io.Writer, key []byte, metadata map[string]string, records []tlb.Record) error {
	md := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		if strings.HasPrefix(k, "_") {
			return ErrMetadataInvalid
		}
		md[k] = v
	}

	// Generate a timestamp, for convenience only.
	md[TimestampKey] = time.Now().UTC().String()
	md[RecordsKey] = strconv.Itoa(len(records))

	h := hmac.New(sha256.New, key)
	mw := io.MultiWriter(w, h)

	// First, write the header.
	if _, err := mw.Write(magicHeader); err != nil {
		return err
	}

	// Write the metadata.
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if len(b) > maxMetadataSize {
		return ErrInvalidMetadataLength
	}
	if err := writeMetadataLen(mw, uint64(len(b))); err != nil {
		return err
	}
	if _, err := mw.Write(b); err != nil {
		return err
	}

	// We always use "best speed" mode here; records compress well anyway.
	fw, err := flate.NewWriter(mw, flate.BestSpeed)
	if err != nil {
		return err
	}
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(records)))
	if _, err := fw.Write(count[:]); err != nil {
		return err
	}
	var buf [recordSize]byte
	for _, r := range records {
		putRecord(buf[:], r)
		if _, err := fw.Write(buf[:]); err != nil {
			return err
		}
	}
	if err := fw.Close(); err != nil {
		return err
	}

	// Finally, the HMAC itself, which is not hashed.
	_, err = w.Write(h.Sum(nil))
	return err
}

func readMetadataLen(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// metadata validates the magic header and reads out the metadata.
func metadata(r io.Reader) (map[string]string, error) {
	b := make([]byte, len(magicHeader))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	if !bytes.Equal(b, magicHeader) {
		return nil, ErrBadMagic
	}

	metadataLen, err := readMetadataLen(r)
	if err != nil {
		return nil, err
	}
	if metadataLen > maxMetadataSize {
		return nil, ErrInvalidMetadataLength
	}
	b = make([]byte, int(metadataLen))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	md := make(map[string]string)
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, err
	}
	return md, nil
}

// MetadataUnsafe reads out the metadata from a snapshot without verifying
// any HMAC. This function shouldn't be called for untrusted input files.
func MetadataUnsafe(r io.Reader) (map[string]string, error) {
	return metadata(r)
}

// Load reads a snapshot written by Save with the same key.
func Load(r io.Reader, key []byte) ([]tlb.Record, map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < len(magicHeader)+8+sha256.Size {
		return nil, nil, ErrTruncated
	}

	// Check the hash prior to decoding.
	body, sum := data[:len(data)-sha256.Size], data[len(data)-sha256.Size:]
	h := hmac.New(sha256.New, key)
	h.Write(body)
	if !hmac.Equal(h.Sum(nil), sum) {
		return nil, nil, ErrHashMismatch
	}

	br := bytes.NewReader(body)
	md, err := metadata(br)
	if err != nil {
		return nil, nil, err
	}

	fr := flate.NewReader(br)
	defer fr.Close()
	var count [8]byte
	if _, err := io.ReadFull(fr, count[:]); err != nil {
		return nil, nil, fmt.Errorf("%w: record count: %v", ErrTruncated, err)
	}
	n := binary.BigEndian.Uint64(count[:])

	// Don't trust n for the allocation, only for the loop bound.
	records := make([]tlb.Record, 0, min(n, 4096))
	var buf [recordSize]byte
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(fr, buf[:]); err != nil {
			return nil, nil, fmt.Errorf("%w: record %d: %v", ErrTruncated, i, err)
		}
		rec, err := getRecord(buf[:], int(i))
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if extra, _ := io.Copy(io.Discard, fr); extra != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes after the last record", ErrTruncated, extra)
	}
	return records, md, nil
}
