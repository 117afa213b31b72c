// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frozenswiss

import "fmt"

// option configures how a table is built, checked or accessed.
type option interface {
	apply(c *config)
}

type config struct {
	loadFactor    LoadFactor
	hasLoadFactor bool
	// hash is a func(K) uint64 for the table's key type, or nil.
	hash      any
	allocator Allocator
}

func newConfig(options []option) config {
	c := config{
		loadFactor: DefaultLoadFactor,
		allocator:  defaultAllocator{},
	}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}

// hashFor returns the hash function to use for keys archived by ka.
func hashFor[K any](c *config, ka KeyArchiver[K]) func(K) uint64 {
	if c.hash == nil {
		return ka.Hash
	}
	h, ok := c.hash.(func(K) uint64)
	if !ok {
		var k K
		panic(fmt.Sprintf("frozenswiss: hash option %T does not hash keys of type %T", c.hash, k))
	}
	return h
}

type loadFactorOption struct {
	lf LoadFactor
}

func (op loadFactorOption) apply(c *config) {
	c.loadFactor = op.lf
	c.hasLoadFactor = true
}

// WithLoadFactor is an option to specify the load factor of a table. When
// building, it determines the bucket count. When checking, it requires the
// bucket count to be exactly the one produced by lf; without it any bucket
// count that can hold the entries is accepted.
func WithLoadFactor(lf LoadFactor) option {
	return loadFactorOption{lf}
}

type hashOption[K any] struct {
	hash func(K) uint64
}

func (op hashOption[K]) apply(c *config) {
	c.hash = op.hash
}

// WithHash is an option to specify the hash function used for keys. The
// same function must be supplied when building and when accessing a table.
func WithHash[K any](hash func(K) uint64) option {
	return hashOption[K]{hash}
}

// Allocator specifies an interface for allocating and releasing the scratch
// control bytes used while a table is being built. The default allocator
// utilizes Go's builtin make() and allows the GC to reclaim memory.
type Allocator interface {
	// AllocControls should return a slice equivalent to make([]uint8, n).
	AllocControls(n int) []uint8

	// FreeControls can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocControls. It is called once the table has been resolved, or when
	// serialization fails.
	FreeControls(v []uint8)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocControls(n int) []uint8 {
	return make([]uint8, n)
}

func (defaultAllocator) FreeControls(v []uint8) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(c *config) {
	c.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use while building.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}
