// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package pools reads a persisted configuration describing a set of persistent
memory pools and opens them all, producing name to pool maps.

The on disk layout under a configuration root is

	<root>/<pools_folder_name>/<pool_sets_folder_name>/<pool name>

with one pool file per name. Block pools and object pools are created when
absent; log pools are only opened, never created. A missing pools folder is
not an error: Open then returns an empty Pools.

*/
package pools

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cznic/nvm/balloc"
	"github.com/cznic/nvm/logpool"
	"github.com/cznic/nvm/pmem"
)

// DefaultPermissions is used for created pool files when a pool's
// configuration does not say otherwise: user read-write only.
const DefaultPermissions os.FileMode = 0600

// Configuration describes all pools under one configuration root. The zero
// value, amended by setDefaults, describes no pools at all.
//
// The compatibility promise is the same as of struct types in the Go
// standard library - changes can be made only by adding new exported fields.
type Configuration struct {
	// Name of the directory under the configuration root that contains
	// the pool set directories. Defaults to "pools".
	PoolsFolderName string `json:"pools_folder_name"`

	BlockPools  BlockPoolsConfiguration  `json:"block_pools"`
	LogPools    LogPoolsConfiguration    `json:"log_pools"`
	ObjectPools ObjectPoolsConfiguration `json:"object_pools"`
}

// BlockPoolsConfiguration describes the block pools.
type BlockPoolsConfiguration struct {
	// Defaults to "block".
	PoolSetsFolderName string `json:"pool_sets_folder_name"`

	Pools map[string]BlockPoolConfiguration `json:"pools"`
}

// BlockPoolConfiguration describes one block pool.
type BlockPoolConfiguration struct {
	// Permissions for a created pool file. Zero means DefaultPermissions.
	Permissions os.FileMode `json:"permissions"`

	// PoolSize is the size of a created pool file in bytes. Zero means
	// the existing file's own size dictates; creating a pool then fails.
	PoolSize int64 `json:"pool_size"`

	// BlockSize of a created pool. Zero means the minimum supported
	// block size.
	BlockSize int `json:"block_size"`
}

// LogPoolsConfiguration describes the log pools.
type LogPoolsConfiguration struct {
	// Defaults to "log".
	PoolSetsFolderName string `json:"pool_sets_folder_name"`

	Pools map[string]LogPoolConfiguration `json:"pools"`
}

// LogPoolConfiguration describes one log pool.
type LogPoolConfiguration struct {
	Permissions os.FileMode `json:"permissions"`
	PoolSize    int64       `json:"pool_size"`
}

// ObjectPoolsConfiguration describes the object pools.
type ObjectPoolsConfiguration struct {
	// Defaults to "object".
	PoolSetsFolderName string `json:"pool_sets_folder_name"`

	Pools map[string]ObjectPoolConfiguration `json:"pools"`
}

// ObjectPoolConfiguration describes one object pool. An object pool is a
// block pool carrying a persistent root object graph.
type ObjectPoolConfiguration struct {
	// LayoutName is recorded for compatibility with pool set tooling; it
	// does not affect opening.
	LayoutName string `json:"layout_name"`

	Permissions os.FileMode `json:"permissions"`
	PoolSize    int64       `json:"pool_size"`

	// SkipExpensiveDebugChecks disables the full sweep verification of a
	// freshly opened pool.
	SkipExpensiveDebugChecks bool `json:"skip_expensive_debug_checks"`

	// Transaction tuning knobs, recorded for clients layering
	// transactions above the pool.
	TransactionCacheSize      int64 `json:"transaction_cache_size"`
	TransactionCacheThreshold int64 `json:"transaction_cache_threshold"`
}

func (c *Configuration) setDefaults() {
	if c.PoolsFolderName == "" {
		c.PoolsFolderName = "pools"
	}
	if c.BlockPools.PoolSetsFolderName == "" {
		c.BlockPools.PoolSetsFolderName = "block"
	}
	if c.LogPools.PoolSetsFolderName == "" {
		c.LogPools.PoolSetsFolderName = "log"
	}
	if c.ObjectPools.PoolSetsFolderName == "" {
		c.ObjectPools.PoolSetsFolderName = "object"
	}
}

// ReadConfiguration loads a Configuration from the JSON file at name and
// applies defaults.
func ReadConfiguration(name string) (*Configuration, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	c := &Configuration{}
	if err = json.Unmarshal(b, c); err != nil {
		return nil, err
	}

	c.setDefaults()
	return c, nil
}

// WriteConfiguration persists c as JSON at name.
func WriteConfiguration(name string, c *Configuration, perm os.FileMode) error {
	b, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return err
	}

	return os.WriteFile(name, b, perm)
}

// Pools holds all pools opened from one Configuration.
type Pools struct {
	BlockPools  map[string]*balloc.Pool
	LogPools    map[string]*logpool.Pool
	ObjectPools map[string]*balloc.Pool
}

func newPools() *Pools {
	return &Pools{
		BlockPools:  map[string]*balloc.Pool{},
		LogPools:    map[string]*logpool.Pool{},
		ObjectPools: map[string]*balloc.Pool{},
	}
}

// Open opens every pool c describes under the configuration root directory.
// If <root>/<PoolsFolderName> does not exist, the returned Pools is empty.
// The first failing pool aborts the opening; already opened pools are closed
// and the error names the pool.
func (c *Configuration) Open(root string) (pools *Pools, err error) {
	c.setDefaults()
	pools = newPools()
	dir := filepath.Join(root, c.PoolsFolderName)
	if _, err = os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return pools, nil
		}

		return nil, err
	}

	defer func() {
		if err != nil {
			pools.Close()
			pools = nil
		}
	}()

	for name, bc := range c.BlockPools.Pools {
		var p *balloc.Pool
		if p, err = openBlockPool(filepath.Join(dir, c.BlockPools.PoolSetsFolderName), name, bc.Permissions, bc.PoolSize, bc.BlockSize); err != nil {
			return
		}

		pools.BlockPools[name] = p
	}
	for name, oc := range c.ObjectPools.Pools {
		var p *balloc.Pool
		if p, err = openBlockPool(filepath.Join(dir, c.ObjectPools.PoolSetsFolderName), name, oc.Permissions, oc.PoolSize, 0); err != nil {
			return
		}

		if !oc.SkipExpensiveDebugChecks {
			if _, e := p.Verify(); e != nil {
				p.Release()
				err = &balloc.ErrPoolValidation{Name: name, Err: e}
				return
			}
		}
		pools.ObjectPools[name] = p
	}
	for name := range c.LogPools.Pools {
		var p *logpool.Pool
		if p, err = openLogPool(filepath.Join(dir, c.LogPools.PoolSetsFolderName), name); err != nil {
			return
		}

		pools.LogPools[name] = p
	}
	return pools, nil
}

// openBlockPool opens the pool file at dir/name, creating and formatting it
// when it does not exist and size says how big to make it.
func openBlockPool(dir, name string, perm os.FileMode, size int64, blockSize int) (*balloc.Pool, error) {
	if perm == 0 {
		perm = DefaultPermissions
	}
	if blockSize == 0 {
		blockSize = balloc.MinBlockSize
	}

	path := filepath.Join(dir, name)
	_, statErr := os.Stat(path)
	create := os.IsNotExist(statErr)
	if create {
		if size == 0 {
			return nil, &balloc.ErrPoolOpen{Name: name, Err: statErr}
		}

		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, &balloc.ErrPoolOpen{Name: name, Err: err}
		}
	}

	m, err := pmem.MapFile(path, &pmem.FileOptions{Create: create, Size: size, Perm: perm})
	if err != nil {
		return nil, &balloc.ErrPoolOpen{Name: name, Err: err}
	}

	var p *balloc.Pool
	if create {
		if p, err = balloc.Create(m, name, blockSize); err != nil {
			if _, ok := err.(*balloc.ErrPoolOpen); !ok {
				err = &balloc.ErrPoolOpen{Name: name, Err: err}
			}
		}
	} else {
		p, err = balloc.Open(m, name)
	}
	if err != nil {
		m.Close()
		return nil, err
	}

	return p, nil
}

// openLogPool opens the existing log pool file at dir/name. Log pools are
// never created implicitly.
func openLogPool(dir, name string) (*logpool.Pool, error) {
	path := filepath.Join(dir, name)
	m, err := pmem.MapFile(path, nil)
	if err != nil {
		return nil, &balloc.ErrPoolOpen{Name: name, Err: err}
	}

	p, err := logpool.Open(m, name)
	if err != nil {
		m.Close()
		return nil, err
	}

	return p, nil
}

// Close releases every pool. The first error is returned, but all pools are
// released regardless.
func (p *Pools) Close() (err error) {
	for _, bp := range p.BlockPools {
		if e := bp.Release(); err == nil {
			err = e
		}
	}
	for _, op := range p.ObjectPools {
		if e := op.Release(); err == nil {
			err = e
		}
	}
	for _, lp := range p.LogPools {
		if e := lp.Close(); err == nil {
			err = e
		}
	}
	return err
}
