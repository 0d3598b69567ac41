package store

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/document"
)

// Snapshot layout, gzip-compressed, little endian:
//
//	magic "HYDB" | version u16 | element width u8 (4 or 8) | dim u32 | count u32
//	vectors count*dim elements | docs length u64 | docs JSON array | crc32 u32
//
// The CRC covers every uncompressed byte before it.
var snapshotMagic = [4]byte{'H', 'Y', 'D', 'B'}

const (
	snapshotVersion = 1
	maxVectorValues = 1 << 31
	maxDocsBytes    = 1 << 34
)

type snapshot struct {
	dim     int
	count   int
	vectors []float32
	docs    []document.Document
}

// Save writes the active rows and documents to path. The file is written to a
// temporary sibling and renamed into place, so a crash never leaves a
// half-written snapshot at path.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshot{dim: s.dim, count: s.count, vectors: s.buf[:s.count*s.dim], docs: s.docs}
	err := writeSnapshotFile(path, snap)
	s.mu.RUnlock()
	if err != nil {
		return wrapError("save", err)
	}
	s.logger.Info("Store saved", zap.String("path", path), zap.Int("documents", snap.count))
	return nil
}

// Load replaces the store's contents with the snapshot at path. On any error
// the store is left unchanged. The store keeps its own metric.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return wrapError("load", fmt.Errorf("%w: %s", ErrStoreFileNotFound, path))
		}
		return wrapError("load", err)
	}
	defer f.Close()

	snap, err := readSnapshot(f)
	if err != nil {
		return wrapError("load", fmt.Errorf("%w: %s: %v", ErrStoreFileCorrupt, path, err))
	}

	s.mu.Lock()
	s.dim = snap.dim
	s.buf = snap.vectors
	s.capacity = snap.count
	s.count = snap.count
	s.docs = snap.docs
	s.mu.Unlock()

	s.logger.Info("Store loaded", zap.String("path", path), zap.Int("documents", snap.count), zap.Int("dimensions", snap.dim))
	return nil
}

func writeSnapshotFile(path string, snap snapshot) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = writeSnapshot(bw, snap, 4); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// writeSnapshot encodes snap with elements of the given width (4 or 8 bytes).
func writeSnapshot(w io.Writer, snap snapshot, width int) error {
	if width != 4 && width != 8 {
		return fmt.Errorf("unsupported element width %d", width)
	}
	docs, err := json.Marshal(snap.docs)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}

	zw := gzip.NewWriter(w)
	crc := crc32.NewIEEE()
	out := io.MultiWriter(zw, crc)

	header := make([]byte, 0, 15)
	header = append(header, snapshotMagic[:]...)
	header = binary.LittleEndian.AppendUint16(header, snapshotVersion)
	header = append(header, byte(width))
	header = binary.LittleEndian.AppendUint32(header, uint32(snap.dim))
	header = binary.LittleEndian.AppendUint32(header, uint32(snap.count))
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]byte, 0, snap.dim*width)
	for i := 0; i < snap.count; i++ {
		row = row[:0]
		for _, v := range snap.vectors[i*snap.dim : (i+1)*snap.dim] {
			if width == 4 {
				row = binary.LittleEndian.AppendUint32(row, math.Float32bits(v))
			} else {
				row = binary.LittleEndian.AppendUint64(row, math.Float64bits(float64(v)))
			}
		}
		if _, err := out.Write(row); err != nil {
			return fmt.Errorf("failed to write vectors: %w", err)
		}
	}

	if _, err := out.Write(binary.LittleEndian.AppendUint64(nil, uint64(len(docs)))); err != nil {
		return fmt.Errorf("failed to write documents: %w", err)
	}
	if _, err := out.Write(docs); err != nil {
		return fmt.Errorf("failed to write documents: %w", err)
	}
	if _, err := zw.Write(binary.LittleEndian.AppendUint32(nil, crc.Sum32())); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return nil
}

// readSnapshot decodes a snapshot, converting 8-byte elements to float32.
func readSnapshot(r io.Reader) (snapshot, error) {
	zr, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return snapshot{}, fmt.Errorf("not a gzip stream: %w", err)
	}
	defer zr.Close()

	crc := crc32.NewIEEE()
	in := io.TeeReader(zr, crc)

	header := make([]byte, 15)
	if _, err := io.ReadFull(in, header); err != nil {
		return snapshot{}, fmt.Errorf("short header: %w", err)
	}
	if [4]byte(header[:4]) != snapshotMagic {
		return snapshot{}, errors.New("bad magic")
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != snapshotVersion {
		return snapshot{}, fmt.Errorf("unsupported version %d", v)
	}
	width := int(header[6])
	if width != 4 && width != 8 {
		return snapshot{}, fmt.Errorf("unsupported element width %d", width)
	}
	dim := int(binary.LittleEndian.Uint32(header[7:11]))
	count := int(binary.LittleEndian.Uint32(header[11:15]))
	if uint64(dim)*uint64(count) > maxVectorValues || (count > 0 && dim == 0) {
		return snapshot{}, fmt.Errorf("implausible shape %dx%d", count, dim)
	}

	vectors, err := readVectors(in, count*dim, width)
	if err != nil {
		return snapshot{}, err
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(in, lenBuf[:]); err != nil {
		return snapshot{}, fmt.Errorf("short documents length: %w", err)
	}
	docsLen := binary.LittleEndian.Uint64(lenBuf[:])
	if docsLen > maxDocsBytes {
		return snapshot{}, fmt.Errorf("implausible documents length %d", docsLen)
	}
	raw, err := io.ReadAll(io.LimitReader(in, int64(docsLen)))
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read documents: %w", err)
	}
	if uint64(len(raw)) != docsLen {
		return snapshot{}, fmt.Errorf("short documents: %d of %d bytes", len(raw), docsLen)
	}

	want := crc.Sum32()
	var sum [4]byte
	if _, err := io.ReadFull(zr, sum[:]); err != nil {
		return snapshot{}, fmt.Errorf("missing checksum: %w", err)
	}
	if got := binary.LittleEndian.Uint32(sum[:]); got != want {
		return snapshot{}, fmt.Errorf("checksum mismatch: %08x != %08x", got, want)
	}
	if n, _ := io.Copy(io.Discard, zr); n != 0 {
		return snapshot{}, fmt.Errorf("%d trailing bytes", n)
	}

	var docs []document.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return snapshot{}, fmt.Errorf("bad documents: %w", err)
	}
	if len(docs) != count {
		return snapshot{}, fmt.Errorf("%d documents for %d vectors", len(docs), count)
	}
	return snapshot{dim: dim, count: count, vectors: vectors, docs: docs}, nil
}

// readVectors grows its result as data arrives so a corrupt count cannot
// force a huge allocation up front.
func readVectors(r io.Reader, n, width int) ([]float32, error) {
	out := make([]float32, 0, min(n, 1<<20))
	buf := make([]byte, 4096*width)
	for done := 0; done < n; {
		chunk := min(n-done, 4096)
		b := buf[:chunk*width]
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("short vectors: %w", err)
		}
		for i := 0; i < chunk; i++ {
			if width == 4 {
				out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
			} else {
				out = append(out, float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))))
			}
		}
		done += chunk
	}
	return out, nil
}
