package namedobj

import (
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// Region is a fixed-size shared memory segment mapped into this process.
type Region struct {
	ns      *Namespace
	name    string
	path    string
	holder  *flock.Flock
	created bool

	mu   sync.Mutex
	data []byte
}

// CreateRegion creates the named region with the given capacity, or opens it
// when a live region already exists under the name.
func (ns *Namespace) CreateRegion(name string, size int) (*Region, error) {
	return ns.createRegion(name, size, false)
}

// CreateNewRegion creates the named region and fails with ErrExists when a
// live region already exists.
func (ns *Namespace) CreateNewRegion(name string, size int) (*Region, error) {
	return ns.createRegion(name, size, true)
}

// OpenRegion opens an existing live region. Its capacity is the creator's.
func (ns *Namespace) OpenRegion(name string) (*Region, error) {
	path, err := ns.objectPath(name, KindRegion.ext())
	if err != nil {
		return nil, err
	}
	var region *Region
	err = ns.locked(func() error {
		holder, _, attachErr := ns.attach(path, false, false, nil)
		if attachErr != nil {
			return attachErr
		}
		region, attachErr = ns.mapRegion(name, path, holder, false)
		return attachErr
	})
	if err != nil {
		return nil, err
	}
	return region, nil
}

func (ns *Namespace) createRegion(name string, size int, exclusive bool) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("region %s: size must be positive, got %d", name, size)
	}
	path, err := ns.objectPath(name, KindRegion.ext())
	if err != nil {
		return nil, err
	}
	var region *Region
	err = ns.locked(func() error {
		holder, created, attachErr := ns.attach(path, true, exclusive, func(f *os.File) error {
			return f.Truncate(int64(size))
		})
		if attachErr != nil {
			return attachErr
		}
		region, attachErr = ns.mapRegion(name, path, holder, created)
		return attachErr
	})
	if err != nil {
		return nil, err
	}
	if !region.created && region.Size() < size {
		_ = region.Close()
		return nil, fmt.Errorf("region %s: existing capacity %d smaller than requested %d", name, region.Size(), size)
	}
	return region, nil
}

// mapRegion maps the object file. On failure the holder is released and the
// file reclaimed if unused. Must be called under the namespace lock.
func (ns *Namespace) mapRegion(name, path string, holder *flock.Flock, created bool) (*Region, error) {
	fail := func(err error) (*Region, error) {
		_ = holder.Unlock()
		_, _ = ns.live(path)
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fail(classify("open region", name, err))
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fail(classify("stat region", name, err))
	}
	size := int(info.Size())
	if size <= 0 {
		return fail(fmt.Errorf("region %s: empty backing file", name))
	}
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(classify("map region", name, err))
	}
	return &Region{ns: ns, name: name, path: path, holder: holder, created: created, data: data}, nil
}

// Name returns the region's well-known name.
func (r *Region) Name() string { return r.name }

// Created reports whether this handle created the region.
func (r *Region) Created() bool { return r.created }

// Size returns the region capacity in bytes.
func (r *Region) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Read copies up to len(p) bytes from the start of the region into p.
func (r *Region) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return 0, ErrClosed
	}
	return copy(p, r.data), nil
}

// Bytes returns a copy of the full region content.
func (r *Region) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil, ErrClosed
	}
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out, nil
}

// Write replaces the region content with p, truncated to capacity, and zeroes
// the remainder. It returns the number of bytes stored.
func (r *Region) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return 0, ErrClosed
	}
	n := copy(r.data, p)
	clear(r.data[n:])
	return n, nil
}

// Close unmaps the region and releases this handle. The region is reclaimed
// once every handle across all processes is closed.
func (r *Region) Close() error {
	r.mu.Lock()
	data := r.data
	r.data = nil
	r.mu.Unlock()
	if data == nil {
		return nil
	}
	unmapErr := unix.Munmap(data)
	detachErr := r.ns.detach(r.path, r.holder)
	if unmapErr != nil {
		return classify("unmap region", r.name, unmapErr)
	}
	return detachErr
}
