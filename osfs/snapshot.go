package osfs

import (
	"time"

	"github.com/mit-pdos/go-osfs/snap"
)

// CreateSnapshot captures the whole volume under name. Snapshots are
// volume-wide, so path is ignored; it exists for interface symmetry
// with the path-addressed operations.
func (fs *Fs) CreateSnapshot(path string, name string) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opSnapCreate, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err = fs.snaps.Create(name)
	return err
}

// RestoreSnapshot rolls the volume back to the named snapshot.
func (fs *Fs) RestoreSnapshot(name string) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opSnapRestore, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.snaps.Lookup(name)
	if err != nil {
		return err
	}
	return fs.snaps.Restore(rec.Id)
}

// DeleteSnapshot drops the named snapshot and the block references it
// holds.
func (fs *Fs) DeleteSnapshot(name string) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opSnapDelete, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.snaps.Lookup(name)
	if err != nil {
		return err
	}
	return fs.snaps.Delete(rec.Id)
}

// ListSnapshots returns the names of active snapshots in id order.
// path is ignored; snapshots are volume-wide.
func (fs *Fs) ListSnapshots(path string) (names []string, err error) {
	start := time.Now()
	defer func() { fs.stats.record(opSnapList, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	recs, err := fs.snaps.List()
	if err != nil {
		return nil, err
	}
	names = make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names, nil
}

// Snapshots returns the full active records for inspection tools.
func (fs *Fs) Snapshots() ([]*snap.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.snaps.List()
}
