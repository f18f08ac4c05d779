package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/texc/texc/cerr"
)

// Cache is an in-process, content-addressed store of compiled Kernels,
// keyed by a hash of the subgraph's op sequence and shapes rather than
// the caller-supplied subgraphID — two subgraphs with different IDs but
// the same structure share one compile. When a DiskCache is attached,
// a CUDA build's emitted source is additionally written to it so it
// survives process restarts. GetOrBuild only writes to the DiskCache: an
// in-memory miss always calls build, and nothing is loaded from disk.
type Cache struct {
	mu   sync.Mutex
	mem  map[string]*Kernel
	disk *DiskCache
}

// NewCache returns an empty Cache. disk may be nil to keep the cache
// purely in-process.
func NewCache(disk *DiskCache) *Cache {
	return &Cache{mem: map[string]*Kernel{}, disk: disk}
}

// GetOrBuild returns the Kernel already compiled for this subgraph's
// structural key, building and storing one via build if absent. build
// is called at most once per distinct key even under disk-cache misses.
func (c *Cache) GetOrBuild(key string, build func() (*Kernel, error)) (*Kernel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.mem[key]; ok {
		return k, nil
	}
	k, err := build()
	if err != nil {
		return nil, err
	}
	if c.disk != nil && k.backend == BackendCUDA {
		if err := c.disk.Store(key, k.cudaSrc); err != nil {
			return nil, err
		}
	}
	c.mem[key] = k
	return k, nil
}

// StructuralKey hashes the ordered (kind, shape) sequence a fuser.Graph
// presents, independent of its caller-chosen subgraphID, so two
// syntactically identical fusions compiled under different names still
// share one Cache entry.
func StructuralKey(subgraphID string, kinds []string, outShape string) string {
	h := sha256.New()
	for _, k := range kinds {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	h.Write([]byte(outShape))
	return hex.EncodeToString(h.Sum(nil))
}

// DiskCache persists emitted CUDA sources under a directory, one file
// per content hash, guarded by a flock so concurrent processes compiling
// the same subgraph see either a complete file or build it themselves —
// the same completion-marker-under-lock pattern as the teacher's
// prepareRuntime (runtime.go).
type DiskCache struct {
	dir string
}

// OpenDiskCache creates dir if needed and returns a DiskCache rooted
// there.
func OpenDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerr.Wrap(errors.Wrapf(err, "mkdir %s", dir), cerr.ResourceError, "kernel: open disk cache")
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".cu")
}

// Lookup returns the cached CUDA source for key, or ok=false on a miss.
func (c *DiskCache) Lookup(key string) (src string, ok bool, err error) {
	data, err := os.ReadFile(c.entryPath(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cerr.Wrap(errors.Wrapf(err, "read %s", c.entryPath(key)), cerr.ResourceError, "kernel: read cache entry %s", key)
	}
	return string(data), true, nil
}

// Store writes src under key, locking the entry's path so a concurrent
// writer for the same key either waits or observes a complete file.
func (c *DiskCache) Store(key, src string) error {
	lock := flock.New(c.entryPath(key) + ".lock")
	if err := lock.Lock(); err != nil {
		return cerr.Wrap(errors.Wrapf(err, "flock %s", c.entryPath(key)+".lock"), cerr.ResourceError, "kernel: lock cache entry %s", key)
	}
	defer lock.Unlock()

	if _, ok, err := c.Lookup(key); err != nil {
		return err
	} else if ok {
		return nil
	}
	tmp := c.entryPath(key) + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, []byte(src), 0o644); err != nil {
		return cerr.Wrap(errors.Wrapf(err, "write %s", tmp), cerr.ResourceError, "kernel: store cache entry %s", key)
	}
	if err := os.Rename(tmp, c.entryPath(key)); err != nil {
		return cerr.Wrap(errors.Wrapf(err, "rename %s to %s", tmp, c.entryPath(key)), cerr.ResourceError, "kernel: commit cache entry %s", key)
	}
	return nil
}

// Prune removes cached entries older than maxAge, keeping at least
// `keep` of the most recent regardless of age — the same
// keep-N-skip-if-recent policy as the teacher's cleanupOldRuntimes.
func (c *DiskCache) Prune(keep int, maxAge time.Duration) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return cerr.Wrap(errors.Wrapf(err, "readdir %s", c.dir), cerr.ResourceError, "kernel: prune cache dir")
	}
	type fileInfo struct {
		name  string
		mtime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cu" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{e.Name(), info.ModTime()})
	}
	if len(files) <= keep {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	cutoff := time.Now().Add(-maxAge)
	for _, f := range files[:len(files)-keep] {
		if f.mtime.Before(cutoff) {
			os.Remove(filepath.Join(c.dir, f.name))
		}
	}
	return nil
}
