// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A file backed implementation of Mapping.

package pmem

import (
	"fmt"
	"os"

	"github.com/cznic/fileutil"
	"golang.org/x/sys/unix"
)

var _ Mapping = (*FileMapping)(nil) // Ensure FileMapping is a Mapping.

// FileOptions amend the behavior of MapFile.
type FileOptions struct {
	// Create the file if it does not exist. A created file is sized to
	// Size bytes. An existing file is mapped whole and Size is ignored
	// unless the file is empty, in which case it is grown to Size first.
	Create bool

	// Size of the region for created or empty files, in bytes. Rounded up
	// to a whole number of pages.
	Size int64

	// Permissions for created files. Zero means 0600.
	Perm os.FileMode
}

// FileMapping is a Mapping backed by a mmap'ed file. Flush msyncs the
// affected pages. Whether the file lives on a DAX filesystem or on a page
// cached one, the msync contract holds; on DAX the kernel reduces it to the
// appropriate cache line write backs.
type FileMapping struct {
	f    *os.File
	b    []byte
	name string
}

const pageSize = 4096

// MapFile maps the file at name according to opt and returns the mapping.
func MapFile(name string, opt *FileOptions) (m *FileMapping, err error) {
	var o FileOptions
	if opt != nil {
		o = *opt
	}
	if o.Perm == 0 {
		o.Perm = 0600
	}

	flags := os.O_RDWR
	if o.Create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(name, flags, o.Perm)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		if o.Size <= 0 {
			return nil, fmt.Errorf("%s: empty file and no size given", name)
		}

		size = int64(roundUp(int(o.Size), pageSize))
		if err = f.Truncate(size); err != nil {
			return nil, err
		}
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return &FileMapping{f: f, b: b, name: name}, nil
}

// Bytes implements Mapping.
func (m *FileMapping) Bytes() []byte { return m.b }

// Name implements Mapping.
func (m *FileMapping) Name() string { return m.name }

// Flush implements Mapping. The range is widened to page boundaries as
// required by msync.
func (m *FileMapping) Flush(off, n int) error {
	if n == 0 {
		return nil
	}

	if off < 0 || n < 0 || off+n > len(m.b) {
		return fmt.Errorf("%s: Flush range [%d, %d) out of mapping", m.name, off, off+n)
	}

	lo := roundDown(off, pageSize)
	hi := roundUp(off+n, pageSize)
	if hi > len(m.b) {
		hi = len(m.b)
	}
	return unix.Msync(m.b[lo:hi], unix.MS_SYNC)
}

// Drain implements Mapping. Msync with MS_SYNC is already synchronous, so
// there's nothing left to wait for.
func (m *FileMapping) Drain() error { return nil }

// PunchHole deallocates the file blocks backing [off, off+n). The mapping
// size does not change and the range reads back as zeros.
func (m *FileMapping) PunchHole(off, n int64) error {
	return fileutil.PunchHole(m.f, off, n)
}

// Close implements Mapping.
func (m *FileMapping) Close() (err error) {
	if m.b != nil {
		if err = unix.Msync(m.b, unix.MS_SYNC); err == nil {
			err = unix.Munmap(m.b)
		} else {
			unix.Munmap(m.b)
		}
		m.b = nil
	}
	if e := m.f.Close(); err == nil {
		err = e
	}
	return err
}
