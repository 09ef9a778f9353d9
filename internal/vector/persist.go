package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/storage"
	"go.uber.org/zap"
)

// Artifact names inside the index directory.
const (
	VectorsFile = "vectors.bin"
	SidecarFile = "metadata.db"
)

const formatVersion uint32 = 1

var fileMagic = [4]byte{'P', 'S', 'G', 'V'}

// header precedes count*dimension little-endian float32 values in VectorsFile.
type header struct {
	Magic      [4]byte
	Version    uint32
	Dimension  uint32
	Count      uint32
	Generation [16]byte
	Checksum   uint64
}

// Save writes both artifacts to temporary files, syncs them and renames them into place.
// The sidecar is renamed first; a crash between the renames leaves mismatched generations,
// which Load treats as corruption.
func (x *FlatIndex) Save(ctx context.Context) error {
	if x.dir == "" {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := os.MkdirAll(x.dir, 0755); err != nil {
		return models.WrapError(models.KindPersistence, "create index directory", err)
	}
	generation := uuid.New()
	vecPath := filepath.Join(x.dir, VectorsFile)
	sidePath := filepath.Join(x.dir, SidecarFile)
	vecTmp := vecPath + ".tmp"
	sideTmp := sidePath + ".tmp"

	if err := x.writeVectors(vecTmp, generation); err != nil {
		os.Remove(vecTmp)
		return models.WrapError(models.KindPersistence, "write vectors", err)
	}
	records := make([]storage.EntryRecord, len(x.entries))
	for i, e := range x.entries {
		records[i] = storage.EntryRecord{Slot: i, Document: e.document, Metadata: e.metadata}
	}
	manifest := storage.Manifest{
		Generation: generation.String(),
		Count:      len(x.entries),
		Dimension:  x.dimension,
		SavedAt:    time.Now(),
	}
	if err := storage.WriteSidecar(ctx, sideTmp, manifest, records); err != nil {
		os.Remove(vecTmp)
		os.Remove(sideTmp)
		return models.WrapError(models.KindPersistence, "write sidecar", err)
	}
	if err := os.Rename(sideTmp, sidePath); err != nil {
		os.Remove(vecTmp)
		return models.WrapError(models.KindPersistence, "commit sidecar", err)
	}
	if err := os.Rename(vecTmp, vecPath); err != nil {
		return models.WrapError(models.KindPersistence, "commit vectors", err)
	}
	x.logger.Info("vector index saved",
		zap.String("dir", x.dir),
		zap.Int("entries", len(x.entries)),
		zap.String("generation", manifest.Generation))

	if x.mirror != nil {
		for _, name := range []string{SidecarFile, VectorsFile} {
			if err := x.mirror.Upload(ctx, name, filepath.Join(x.dir, name)); err != nil {
				x.logger.Warn("mirror upload failed", zap.String("artifact", name), zap.Error(err))
			}
		}
	}
	return nil
}

func (x *FlatIndex) writeVectors(path string, generation uuid.UUID) error {
	payload := make([]byte, 0, len(x.entries)*x.dimension*4)
	for _, e := range x.entries {
		payload = append(payload, float32SliceToBytes(e.vector)...)
	}
	h := header{
		Magic:      fileMagic,
		Version:    formatVersion,
		Dimension:  uint32(x.dimension),
		Count:      uint32(len(x.entries)),
		Generation: [16]byte(generation),
		Checksum:   xxhash.Sum64(payload),
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return f.Close()
}

// Load replaces the in-memory entries with the persisted snapshot and reports whether
// one was restored. Missing state leaves the index empty; corrupt state is logged and
// the index is reset to empty.
func (x *FlatIndex) Load(ctx context.Context) bool {
	if x.dir == "" {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	vecPath := filepath.Join(x.dir, VectorsFile)
	sidePath := filepath.Join(x.dir, SidecarFile)
	if !exists(vecPath) && !exists(sidePath) {
		if !x.fetchFromMirror(ctx) {
			x.logger.Debug("no persisted vector index", zap.String("dir", x.dir))
			return false
		}
	}
	entries, err := x.readSnapshot(ctx, vecPath, sidePath)
	if err != nil {
		x.logger.Warn("discarding unreadable vector index", zap.String("dir", x.dir), zap.Error(err))
		x.entries = nil
		return false
	}
	x.entries = entries
	x.logger.Info("vector index loaded", zap.String("dir", x.dir), zap.Int("entries", len(entries)))
	return true
}

func (x *FlatIndex) fetchFromMirror(ctx context.Context) bool {
	if x.mirror == nil {
		return false
	}
	for _, name := range []string{SidecarFile, VectorsFile} {
		err := x.mirror.Download(ctx, name, filepath.Join(x.dir, name))
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false
		}
		if err != nil {
			x.logger.Warn("mirror download failed", zap.String("artifact", name), zap.Error(err))
			return false
		}
	}
	x.logger.Info("vector index fetched from mirror", zap.String("dir", x.dir))
	return true
}

func (x *FlatIndex) readSnapshot(ctx context.Context, vecPath, sidePath string) ([]entry, error) {
	f, err := os.Open(vecPath)
	if err != nil {
		return nil, fmt.Errorf("open vectors: %w", err)
	}
	defer f.Close()

	var h header
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != fileMagic {
		return nil, fmt.Errorf("bad magic %q", h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("unsupported format version %d", h.Version)
	}
	if int(h.Dimension) != x.dimension {
		return nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", h.Dimension, x.dimension)
	}
	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if want := int(h.Count) * x.dimension * 4; len(payload) != want {
		return nil, fmt.Errorf("payload is %d bytes, expected %d", len(payload), want)
	}
	if sum := xxhash.Sum64(payload); sum != h.Checksum {
		return nil, fmt.Errorf("checksum mismatch: %x != %x", sum, h.Checksum)
	}

	manifest, records, err := storage.ReadSidecar(ctx, sidePath)
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	if manifest.Generation != uuid.UUID(h.Generation).String() {
		return nil, fmt.Errorf("generation mismatch: vectors %s, sidecar %s", uuid.UUID(h.Generation), manifest.Generation)
	}
	if manifest.Count != int(h.Count) || len(records) != int(h.Count) {
		return nil, fmt.Errorf("entry count mismatch: vectors %d, manifest %d, rows %d", h.Count, manifest.Count, len(records))
	}

	entries := make([]entry, len(records))
	stride := x.dimension * 4
	for i, r := range records {
		if r.Slot != i {
			return nil, fmt.Errorf("sidecar slot %d found at position %d", r.Slot, i)
		}
		entries[i] = entry{
			vector:   bytesToFloat32Slice(payload[i*stride : (i+1)*stride]),
			document: r.Document,
			metadata: r.Metadata,
		}
	}
	return entries, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
