package eval

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Hash returns the stable 64-bit content hash of a fully substituted
// kernel IR text.
func Hash(text string) uint64 {
	return xxhash.Sum64String(text)
}

// diskMagic tags a jitgraph kernel cache file, whose on-disk header
// carries the content hash, a target feature tag, and the uncompressed
// payload size.
const diskMagic = uint32(0x4a495447) // "JITG"
const diskVersion = uint16(1)

// cacheHeader is the on-disk header preceding the gzip-compressed
// payload, one file per kernel named <hex-hash>.<backend>.bin.
type cacheHeader struct {
	Magic            uint32
	Version          uint16
	Hash             uint64
	TargetTagLen     uint16
	UncompressedSize uint32
}

// MemCache is the in-process compiled-artifact cache, keyed by content
// hash. Memory cache: hash -> compiled artifact handle.
type MemCache struct {
	mu   sync.Mutex
	data map[uint64]interface{}
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{data: make(map[uint64]interface{})}
}

func (c *MemCache) Get(hash uint64) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[hash]
	return v, ok
}

func (c *MemCache) Put(hash uint64, artifact interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[hash] = artifact
}

// Len reports the number of cached artifacts, for diagnostics/tests.
func (c *MemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// DiskCache persists compiled kernel bytes under a backend-specific path,
// keyed by a platform temp directory / ".jitgraph" root.
type DiskCache struct {
	dir string
}

// DefaultCacheDir returns $HOME/.jitgraph on Unix or %TEMP%\jitgraph on
// Windows.
func DefaultCacheDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.TempDir(), "jitgraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "jitgraph")
	}
	return filepath.Join(home, ".jitgraph")
}

// NewDiskCache returns a DiskCache rooted at dir, creating it if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eval: creating disk cache dir %q: %w", dir, err)
	}
	return &DiskCache{dir: dir}, nil
}

func (d *DiskCache) path(hash uint64, backendName string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%016x.%s.bin", hash, backendName))
}

// Load reads and decompresses the cached artifact bytes for (hash,
// backendName, targetTag), returning (nil, false, nil) on a clean miss.
// A header whose targetTag does not match is treated as a miss rather
// than an error: the file simply belongs to a different SM/feature set.
func (d *DiskCache) Load(hash uint64, backendName, targetTag string) ([]byte, bool, error) {
	f, err := os.Open(d.path(hash, backendName))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("eval: opening disk cache entry: %w", err)
	}
	defer f.Close()

	var hdr cacheHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr.Magic); err != nil {
		return nil, false, err
	}
	if hdr.Magic != diskMagic {
		return nil, false, fmt.Errorf("eval: disk cache entry has bad magic")
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr.Version); err != nil {
		return nil, false, err
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr.Hash); err != nil {
		return nil, false, err
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr.TargetTagLen); err != nil {
		return nil, false, err
	}
	tagBytes := make([]byte, hdr.TargetTagLen)
	if _, err := io.ReadFull(f, tagBytes); err != nil {
		return nil, false, err
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr.UncompressedSize); err != nil {
		return nil, false, err
	}
	if string(tagBytes) != targetTag || hdr.Hash != hash {
		return nil, false, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, false, fmt.Errorf("eval: decompressing disk cache entry: %w", err)
	}
	defer gz.Close()
	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, false, fmt.Errorf("eval: reading disk cache entry: %w", err)
	}
	return payload, true, nil
}

// Store writes payload under (hash, backendName, targetTag), writing to
// a uuid-tagged temp file first and renaming atomically into place so two
// processes racing to populate the cache directory never observe a
// partially-written file.
func (d *DiskCache) Store(hash uint64, backendName, targetTag string, payload []byte) error {
	var body bytes.Buffer
	gz := gzip.NewWriter(&body)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("eval: compressing disk cache entry: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("eval: closing gzip writer: %w", err)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, diskMagic)
	binary.Write(&out, binary.LittleEndian, diskVersion)
	binary.Write(&out, binary.LittleEndian, hash)
	binary.Write(&out, binary.LittleEndian, uint16(len(targetTag)))
	out.WriteString(targetTag)
	binary.Write(&out, binary.LittleEndian, uint32(len(payload)))
	out.Write(body.Bytes())

	tmp := filepath.Join(d.dir, fmt.Sprintf(".tmp-%s", uuid.NewString()))
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("eval: writing disk cache temp file: %w", err)
	}
	if err := os.Rename(tmp, d.path(hash, backendName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("eval: installing disk cache entry: %w", err)
	}
	return nil
}
