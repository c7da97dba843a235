package segment

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
)

// ErrCorrupt marks a segment whose structure or checksum does not verify.
var ErrCorrupt = errors.New("corrupt segment")

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	postBase int64
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := openReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openReader(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: %s is too small", ErrCorrupt, path)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	if header.DictOffset+header.DictSize+int64(FooterSize) > info.Size() || header.DictSize <= 0 {
		return nil, fmt.Errorf("%w: dictionary out of bounds", ErrCorrupt)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch", ErrCorrupt)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %v", ErrCorrupt, err)
	}
	for _, d := range dict {
		if d.PostOffset < 0 || d.PostLen < 0 || d.PostOffset+int64(d.PostLen) > header.PostSize {
			return nil, fmt.Errorf("%w: postings for %q out of bounds", ErrCorrupt, d.Term)
		}
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		postBase: header.PostOffset,
	}, nil
}

// Search reads the postings of a single term from disk.
func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.postBase+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("%w: parsing postings for %q: %v", ErrCorrupt, entry.Term, err)
	}
	return postings, nil
}

// Load reads every posting list and rebuilds the in-memory index.
func (r *Reader) Load() (*index.TokenIndex, error) {
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		postings, err := r.readPostings(d)
		if err != nil {
			return nil, err
		}
		entries = append(entries, index.TermEntry{Term: d.Term, Postings: postings})
	}
	idx, err := index.FromEntries(entries, int(r.header.LineCount), r.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return idx, nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) LineCount() uint32 {
	return r.header.LineCount
}

// Fingerprint returns the hex digest of the corpus the segment was built
// from.
func (r *Reader) Fingerprint() string {
	return hex.EncodeToString(r.header.Fingerprint[:])
}

func (r *Reader) Close() error {
	return r.file.Close()
}
