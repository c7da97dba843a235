package segment

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
)

// MagicBytes identifies a token index segment file ("BAIX").
const (
	MagicBytes      uint32 = 0x42414958
	FormatVersion   uint32 = 1
	HeaderSize      int    = 96
	FooterSize      int    = 32
	FingerprintSize int    = 32
)

// SegmentHeader is the fixed-size header written at the start of every
// segment.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	TermCount   uint32
	LineCount   uint32
	DictOffset  int64
	DictSize    int64
	PostOffset  int64
	PostSize    int64
	CreatedAt   int64
	Fingerprint [FingerprintSize]byte
}

// DictEntry maps a term to its postings offset, length, and line frequency
// in the segment file.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	LineFreq   int    `json:"d"`
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.LineCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.CreatedAt))
	copy(b[56:56+FingerprintSize], h.Fingerprint[:])
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	h := SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		LineCount:  binary.LittleEndian.Uint32(b[12:16]),
		DictOffset: int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[48:56])),
	}
	copy(h.Fingerprint[:], b[56:56+FingerprintSize])
	return h
}

// Write atomically persists idx to path. It writes to a .tmp file first
// and renames on success.
func Write(path string, idx *index.TokenIndex) error {
	entries := idx.Snapshot()
	if len(entries) == 0 {
		return fmt.Errorf("cannot write empty segment")
	}
	var fp [FingerprintSize]byte
	if raw, err := hex.DecodeString(idx.Fingerprint()); err == nil && len(raw) == FingerprintSize {
		copy(fp[:], raw)
	} else {
		return fmt.Errorf("index fingerprint %q is not a %d-byte hex digest", idx.Fingerprint(), FingerprintSize)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating segment directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmpPath)

	header := SegmentHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		TermCount:   uint32(len(entries)),
		LineCount:   uint32(idx.LineCount()),
		CreatedAt:   time.Now().Unix(),
		Fingerprint: fp,
	}
	if _, err := f.Write(encodeHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	offset := postingsStart
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			LineFreq:   len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}

	postingsSize := offset - postingsStart
	dictStart := offset
	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	dictSize := int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], header.LineCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postingsSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}

	header.DictOffset = dictStart
	header.DictSize = dictSize
	header.PostOffset = postingsStart
	header.PostSize = postingsSize
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}
