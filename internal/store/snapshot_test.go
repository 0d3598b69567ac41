package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/vector"
)

func populated(t *testing.T) *Store {
	t.Helper()
	s := newStore(t, vector.MetricCosine, WithInitialCapacity(16))
	rec := document.NewRecord().Set("id", "r1").Set("description", "hello").
		Set("meta", document.NewRecord().Set("page", 3))
	ds := []document.Document{document.Text("plain"), document.FromRecord(rec), document.Text("third")}
	vecs := [][]float32{{0.1, 0.2, 0.3}, {-1, 0, 1e-7}, {3.5, 2.25, -8}}
	if err := s.AddDocuments(context.Background(), ds, vecs); err != nil {
		t.Fatal(err)
	}
	return s
}

func listing(s *Store) ([]string, [][]float32) {
	var ds []string
	var vs [][]float32
	for e := range s.Listing(true) {
		b, _ := e.Document.MarshalJSON()
		ds = append(ds, string(b))
		vs = append(vs, e.Vector)
	}
	return ds, vs
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := populated(t)
	path := filepath.Join(t.TempDir(), "nested", "store.hdb")
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := newStore(t, vector.MetricCosine)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 3 || loaded.Dimensions() != 3 {
		t.Fatalf("loaded len=%d dim=%d", loaded.Len(), loaded.Dimensions())
	}
	wantDocs, wantVecs := listing(s)
	gotDocs, gotVecs := listing(loaded)
	if !reflect.DeepEqual(gotDocs, wantDocs) {
		t.Errorf("docs = %v, want %v", gotDocs, wantDocs)
	}
	if !reflect.DeepEqual(gotVecs, wantVecs) {
		t.Errorf("vectors = %v, want %v", gotVecs, wantVecs)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot in the directory, got %d entries", len(entries))
	}
}

func TestSnapshot_WritesActiveRowsOnly(t *testing.T) {
	s := populated(t)
	if s.Capacity() != 16 {
		t.Fatalf("capacity = %d", s.Capacity())
	}
	for _, finalize := range []bool{false, true} {
		if finalize {
			s.Finalize()
		}
		var buf bytes.Buffer
		s.mu.RLock()
		err := writeSnapshot(&buf, snapshot{dim: s.dim, count: s.count, vectors: s.buf[:s.count*s.dim], docs: s.docs}, 4)
		s.mu.RUnlock()
		if err != nil {
			t.Fatal(err)
		}
		zr, err := gzip.NewReader(&buf)
		if err != nil {
			t.Fatal(err)
		}
		header := make([]byte, 15)
		if _, err := io.ReadFull(zr, header); err != nil {
			t.Fatal(err)
		}
		if n := binary.LittleEndian.Uint32(header[11:15]); n != 3 {
			t.Errorf("finalize=%v: on-disk count = %d, want 3", finalize, n)
		}
	}
}

func TestSnapshot_EmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.hdb")
	if err := newStore(t, vector.MetricDot).Save(path); err != nil {
		t.Fatal(err)
	}
	s := populated(t)
	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after loading empty snapshot", s.Len())
	}
}

func TestSnapshot_Float64Coerced(t *testing.T) {
	var buf bytes.Buffer
	snap := snapshot{dim: 2, count: 2, vectors: []float32{1.5, -2, 0.25, 8}, docs: docs("a", "b")}
	if err := writeSnapshot(&buf, snap, 8); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "wide.hdb")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	s := newStore(t, vector.MetricDot)
	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}
	_, vecs := listing(s)
	if !reflect.DeepEqual(vecs, [][]float32{{1.5, -2}, {0.25, 8}}) {
		t.Errorf("vectors = %v", vecs)
	}
}

func TestSnapshot_LoadMissingLeavesStore(t *testing.T) {
	s := populated(t)
	err := s.Load(filepath.Join(t.TempDir(), "missing.hdb"))
	if !errors.Is(err, ErrStoreFileNotFound) {
		t.Fatalf("err = %v, want ErrStoreFileNotFound", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestSnapshot_LoadCorruptLeavesStore(t *testing.T) {
	good := populated(t)
	dir := t.TempDir()
	goodPath := filepath.Join(dir, "good.hdb")
	if err := good.Save(goodPath); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(goodPath)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	recompress := func(b []byte) []byte {
		var out bytes.Buffer
		zw := gzip.NewWriter(&out)
		_, _ = zw.Write(b)
		_ = zw.Close()
		return out.Bytes()
	}
	flipped := bytes.Clone(plain)
	flipped[20] ^= 0xFF
	badMagic := bytes.Clone(plain)
	badMagic[0] = 'X'

	tests := []struct {
		name string
		data []byte
	}{
		{"not gzip", []byte("definitely not a snapshot")},
		{"truncated stream", raw[:len(raw)/2]},
		{"truncated payload", recompress(plain[:len(plain)-10])},
		{"flipped vector byte", recompress(flipped)},
		{"bad magic", recompress(badMagic)},
		{"trailing bytes", recompress(append(bytes.Clone(plain), 1, 2, 3))},
		{"empty file", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.hdb")
			if err := os.WriteFile(path, tt.data, 0644); err != nil {
				t.Fatal(err)
			}
			s := newStore(t, vector.MetricDot)
			if err := s.AddDocument(context.Background(), document.Text("keep"), []float32{7}); err != nil {
				t.Fatal(err)
			}
			if err := s.Load(path); !errors.Is(err, ErrStoreFileCorrupt) {
				t.Fatalf("err = %v, want ErrStoreFileCorrupt", err)
			}
			if s.Len() != 1 || s.Dimensions() != 1 {
				t.Errorf("store changed: len=%d dim=%d", s.Len(), s.Dimensions())
			}
		})
	}
}

func TestSnapshot_LoadedStoreAcceptsAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.hdb")
	if err := populated(t).Save(path); err != nil {
		t.Fatal(err)
	}
	s := newStore(t, vector.MetricCosine, WithInitialCapacity(4))
	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDocument(context.Background(), document.Text("new"), []float32{1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 4 || s.Capacity() != 7 {
		t.Errorf("len=%d cap=%d, want 4/7", s.Len(), s.Capacity())
	}
}
