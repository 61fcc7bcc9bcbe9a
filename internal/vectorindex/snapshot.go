package vectorindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Snapshot layout: two co-located artifacts versioned together.
//
//	index.bin  magic "TSVI" | version u32 | dim u32 | count u32 | count*dim float32 LE
//	docs.json  {"version": 1, "positions": [...], "docs": {id: {text, metadata}}}
//
// Both must read back consistently; accepting one without the other, or a
// side table whose cardinality disagrees with the vector buffer, is treated
// as corruption and the caller falls back to an empty index.

const (
	snapshotMagic   = "TSVI"
	snapshotVersion = 1

	indexFileName = "index.bin"
	docsFileName  = "docs.json"
)

type docsSnapshot struct {
	Version   int                  `json:"version"`
	Positions []string             `json:"positions"`
	Docs      map[string]docRecord `json:"docs"`
}

func (x *Index) indexPath() string { return filepath.Join(x.dir, indexFileName) }
func (x *Index) docsPath() string  { return filepath.Join(x.dir, docsFileName) }

// persistLocked writes both artifacts. Caller holds the write lock.
// Writes go through a temp file plus rename so a crash mid-write leaves
// the previous snapshot intact.
func (x *Index) persistLocked() error {
	if x.dir == "" {
		return nil
	}
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := x.writeIndexFile(); err != nil {
		return fmt.Errorf("write %s: %w", indexFileName, err)
	}
	if err := x.writeDocsFile(); err != nil {
		return fmt.Errorf("write %s: %w", docsFileName, err)
	}
	return nil
}

func (x *Index) writeIndexFile() error {
	tmp := x.indexPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	header := make([]byte, 0, 16)
	header = append(header, snapshotMagic...)
	header = binary.LittleEndian.AppendUint32(header, snapshotVersion)
	header = binary.LittleEndian.AppendUint32(header, uint32(x.dim))
	header = binary.LittleEndian.AppendUint32(header, uint32(len(x.positions)))
	if _, err := w.Write(header); err != nil {
		f.Close()
		return err
	}

	buf := make([]byte, 4)
	for _, v := range x.vectors {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, x.indexPath())
}

func (x *Index) writeDocsFile() error {
	snap := docsSnapshot{
		Version:   snapshotVersion,
		Positions: x.positions,
		Docs:      x.docs,
	}
	if snap.Positions == nil {
		snap.Positions = []string{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := x.docsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, x.docsPath())
}

// loadSnapshot reads both artifacts back into the index. Any inconsistency
// between them is reported as ErrSnapshotCorrupt; the caller resets to
// empty. A missing snapshot (neither file present) is not an error.
func (x *Index) loadSnapshot() error {
	_, indexErr := os.Stat(x.indexPath())
	_, docsErr := os.Stat(x.docsPath())
	if os.IsNotExist(indexErr) && os.IsNotExist(docsErr) {
		return nil // fresh start
	}
	if os.IsNotExist(indexErr) != os.IsNotExist(docsErr) {
		return fmt.Errorf("%w: snapshot artifacts incomplete", ErrSnapshotCorrupt)
	}

	count, vectors, err := x.readIndexFile()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(x.docsPath())
	if err != nil {
		return fmt.Errorf("read %s: %w", docsFileName, err)
	}
	var snap docsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: side table version %d, want %d", ErrSnapshotCorrupt, snap.Version, snapshotVersion)
	}
	if len(snap.Positions) != count {
		return fmt.Errorf("%w: side table has %d positions, index has %d vectors",
			ErrSnapshotCorrupt, len(snap.Positions), count)
	}
	for _, id := range snap.Positions {
		if _, ok := snap.Docs[id]; !ok {
			return fmt.Errorf("%w: position references unknown document %q", ErrSnapshotCorrupt, id)
		}
	}

	x.vectors = vectors
	x.positions = snap.Positions
	x.docs = snap.Docs
	if x.docs == nil {
		x.docs = make(map[string]docRecord)
	}
	return nil
}

func (x *Index) readIndexFile() (int, []float32, error) {
	raw, err := os.ReadFile(x.indexPath())
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", indexFileName, err)
	}
	if len(raw) < 16 || string(raw[:4]) != snapshotMagic {
		return 0, nil, fmt.Errorf("%w: bad header", ErrSnapshotCorrupt)
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != snapshotVersion {
		return 0, nil, fmt.Errorf("%w: index version %d, want %d", ErrSnapshotCorrupt, version, snapshotVersion)
	}
	dim := int(binary.LittleEndian.Uint32(raw[8:12]))
	if dim != x.dim {
		return 0, nil, fmt.Errorf("%w: index dimension %d, want %d", ErrSnapshotCorrupt, dim, x.dim)
	}
	count := int(binary.LittleEndian.Uint32(raw[12:16]))

	body := raw[16:]
	if len(body) != count*dim*4 {
		return 0, nil, fmt.Errorf("%w: vector buffer is %d bytes, want %d",
			ErrSnapshotCorrupt, len(body), count*dim*4)
	}
	vectors := make([]float32, count*dim)
	for i := range vectors {
		bits := binary.LittleEndian.Uint32(body[i*4 : i*4+4])
		vectors[i] = math.Float32frombits(bits)
	}
	return count, vectors, nil
}
