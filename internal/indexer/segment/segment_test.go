package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus/corpustest"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
)

func TestWriteAndLoad(t *testing.T) {
	c := corpustest.Sample()
	idx := index.Build(c)
	path := filepath.Join(t.TempDir(), "nested", "sggs.idx")

	if err := Write(path, idx); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.Fingerprint() != c.Fingerprint() {
		t.Errorf("fingerprint = %s, want %s", r.Fingerprint(), c.Fingerprint())
	}
	if r.Terms() != idx.Len() || int(r.LineCount()) != c.Len() {
		t.Errorf("terms=%d lines=%d", r.Terms(), r.LineCount())
	}

	got, err := r.Search("ਗਾਵੈ")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, idx.Postings("ਗਾਵੈ")) {
		t.Errorf("Search = %v", got)
	}
	if missing, err := r.Search("ਨਹੀ-ਮਿਲਿਆ"); err != nil || missing != nil {
		t.Errorf("missing term = %v, %v", missing, err)
	}

	loaded, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded.Snapshot(), idx.Snapshot()) {
		t.Error("loaded index differs from built index")
	}
}

func TestOpenReaderRejectsCorruption(t *testing.T) {
	idx := index.Build(corpustest.Sample())
	dir := t.TempDir()
	path := filepath.Join(dir, "sggs.idx")
	if err := Write(path, idx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:HeaderSize] }},
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"dictionary flipped", func(b []byte) []byte { b[len(b)-FooterSize-2] ^= 0x01; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := append([]byte(nil), data...)
			bad := filepath.Join(dir, tt.name+".idx")
			if err := os.WriteFile(bad, tt.mutate(cp), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := OpenReader(bad)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

// withDictionary replaces the dictionary of a segment image and re-signs it.
func withDictionary(t *testing.T, data []byte, edit func([]DictEntry)) []byte {
	t.Helper()
	h := decodeHeader(data[:HeaderSize])
	var dict []DictEntry
	if err := json.Unmarshal(data[h.DictOffset:h.DictOffset+h.DictSize], &dict); err != nil {
		t.Fatal(err)
	}
	edit(dict)
	dictData, err := json.Marshal(dict)
	if err != nil {
		t.Fatal(err)
	}
	h.DictSize = int64(len(dictData))

	out := append([]byte(nil), encodeHeader(h)...)
	out = append(out, data[HeaderSize:h.DictOffset]...)
	out = append(out, dictData...)
	footer := append([]byte(nil), data[len(data)-FooterSize:]...)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(dictData)))
	return append(out, footer...)
}

func TestOpenReaderRejectsBadPostingBounds(t *testing.T) {
	idx := index.Build(corpustest.Sample())
	dir := t.TempDir()
	path := filepath.Join(dir, "sggs.idx")
	if err := Write(path, idx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		edit    func([]DictEntry)
		corrupt bool
	}{
		{"unchanged", func([]DictEntry) {}, false},
		{"negative length", func(d []DictEntry) { d[0].PostLen = -1 }, true},
		{"negative offset", func(d []DictEntry) { d[0].PostOffset = -8 }, true},
		{"past postings", func(d []DictEntry) { d[len(d)-1].PostLen += 1 << 20 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := filepath.Join(dir, tt.name+".idx")
			if err := os.WriteFile(bad, withDictionary(t, data, tt.edit), 0o644); err != nil {
				t.Fatal(err)
			}
			r, err := OpenReader(bad)
			if !tt.corrupt {
				if err != nil {
					t.Fatalf("re-signed segment rejected: %v", err)
				}
				r.Close()
				return
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestWriteRejectsBadFingerprint(t *testing.T) {
	b := index.NewBuilder()
	b.AddLine(1, "ਸਤਿ ਨਾਮੁ")
	if err := Write(filepath.Join(t.TempDir(), "x.idx"), b.Build("not-hex")); err == nil {
		t.Error("expected error for malformed fingerprint")
	}
}
