package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one complete build: a vector index and the item store aligned
// with it. A snapshot is never modified after construction.
type Snapshot struct {
	// BuildID tags both persisted files so a mismatched pair is detected on load.
	BuildID uuid.UUID
	// BuiltAt is when the snapshot was created.
	BuiltAt time.Time
	// Index holds one vector per item, in item order.
	Index *Flat
	// Items holds the metadata, position-aligned with Index.
	Items *Store
}

// NewSnapshot pairs idx and items under a fresh build id.
func NewSnapshot(idx *Flat, items *Store) (*Snapshot, error) {
	if idx == nil || items == nil {
		return nil, fmt.Errorf("index: snapshot requires an index and a store")
	}
	if idx.Len() != items.Len() {
		return nil, fmt.Errorf("index: snapshot has %d vectors but %d items", idx.Len(), items.Len())
	}
	return &Snapshot{
		BuildID: uuid.New(),
		BuiltAt: time.Now().UTC(),
		Index:   idx,
		Items:   items,
	}, nil
}

// Len returns the number of items in the snapshot.
func (s *Snapshot) Len() int { return s.Items.Len() }

// Paths locates the two files of a persisted snapshot.
type Paths struct {
	// Index is the binary vector file.
	Index string
	// Meta is the JSON metadata file.
	Meta string
}

// metaFile is the JSON layout of the metadata file.
type metaFile struct {
	BuildID string    `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`
	Dim     int       `json:"dim"`
	Items   []Item    `json:"items"`
}

// Save persists snap to paths. Each file is written to a temporary sibling
// and renamed into place; a crash between the two renames leaves files with
// different build ids, which Load rejects.
func Save(paths Paths, snap *Snapshot) error {
	for _, p := range []string{paths.Index, paths.Meta} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("index: save: create dir for %s: %w", p, err)
		}
	}

	indexTmp, err := writeTemp(paths.Index, func(f *os.File) error {
		return snap.Index.Encode(f, snap.BuildID)
	})
	if err != nil {
		return err
	}

	items := make([]Item, snap.Items.Len())
	for i := range items {
		items[i] = snap.Items.At(i)
	}
	metaTmp, err := writeTemp(paths.Meta, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(metaFile{
			BuildID: snap.BuildID.String(),
			BuiltAt: snap.BuiltAt,
			Dim:     snap.Index.Dim(),
			Items:   items,
		})
	})
	if err != nil {
		_ = os.Remove(indexTmp)
		return err
	}

	if err := os.Rename(indexTmp, paths.Index); err != nil {
		_ = os.Remove(indexTmp)
		_ = os.Remove(metaTmp)
		return fmt.Errorf("index: save: rename %s: %w", paths.Index, err)
	}
	if err := os.Rename(metaTmp, paths.Meta); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("index: save: rename %s: %w", paths.Meta, err)
	}
	return nil
}

// writeTemp writes a temporary file next to dst using write, syncs it and
// returns its path.
func writeTemp(dst string, write func(*os.File) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("index: save: create temp for %s: %w", dst, err)
	}
	name := f.Name()
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("index: save: write %s: %w", dst, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("index: save: sync %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("index: save: close %s: %w", dst, err)
	}
	return name, nil
}

// Load reads the snapshot at paths. It returns ErrNoSnapshot when either file
// is missing and ErrInconsistentSnapshot when the files belong to different
// builds or disagree on the item count.
func Load(paths Paths) (*Snapshot, error) {
	for _, p := range []string{paths.Index, paths.Meta} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrNoSnapshot
			}
			return nil, fmt.Errorf("index: load: stat %s: %w", p, err)
		}
	}

	f, err := os.Open(paths.Index)
	if err != nil {
		return nil, fmt.Errorf("index: load: open %s: %w", paths.Index, err)
	}
	defer f.Close()

	idx, indexBuild, err := DecodeFlat(f)
	if err != nil {
		return nil, fmt.Errorf("index: load %s: %w", paths.Index, err)
	}

	raw, err := os.ReadFile(paths.Meta)
	if err != nil {
		return nil, fmt.Errorf("index: load: read %s: %w", paths.Meta, err)
	}
	var mf metaFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("index: load: parse %s: %w", paths.Meta, err)
	}

	metaBuild, err := uuid.Parse(mf.BuildID)
	if err != nil || metaBuild != indexBuild {
		return nil, fmt.Errorf("%w: vector build %s, metadata build %q", ErrInconsistentSnapshot, indexBuild, mf.BuildID)
	}
	if len(mf.Items) != idx.Len() {
		return nil, fmt.Errorf("%w: %d vectors, %d items", ErrInconsistentSnapshot, idx.Len(), len(mf.Items))
	}

	store, err := NewStore(mf.Items)
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}

	return &Snapshot{
		BuildID: indexBuild,
		BuiltAt: mf.BuiltAt,
		Index:   idx,
		Items:   store,
	}, nil
}
