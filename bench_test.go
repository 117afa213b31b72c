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

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

type benchTypes interface {
	uint64 | string
}

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkRuntimeMapIter[uint64], genKeys[uint64]))
	})
	b.Run("impl=frozenMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkFrozenMapIter[uint64], genKeys[uint64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkRuntimeMapGetHit[uint64], genKeys[uint64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	b.Run("impl=frozenMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkFrozenMapGetHit[uint64], genKeys[uint64]))
		b.Run("t=String", benchSizes(benchmarkFrozenMapGetHit[string], genKeys[string]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkRuntimeMapGetMiss[uint64], genKeys[uint64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	b.Run("impl=frozenMap", func(b *testing.B) {
		b.Run("t=Uint64", benchSizes(benchmarkFrozenMapGetMiss[uint64], genKeys[uint64]))
		b.Run("t=String", benchSizes(benchmarkFrozenMapGetMiss[string], genKeys[string]))
	})
}

func BenchmarkMapBuild(b *testing.B) {
	b.Run("t=Uint64", benchSizes(benchmarkFrozenMapBuild[uint64], genKeys[uint64]))
	b.Run("t=String", benchSizes(benchmarkFrozenMapBuild[string], genKeys[string]))
}

func BenchmarkMapCheck(b *testing.B) {
	b.Run("t=Uint64", benchSizes(benchmarkFrozenMapCheck[uint64], genKeys[uint64]))
	b.Run("t=String", benchSizes(benchmarkFrozenMapCheck[string], genKeys[string]))
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	keys := make([]T, end-start)
	for i := range keys {
		switch k := any(&keys[i]).(type) {
		case *uint64:
			*k = uint64(start + i)
		case *string:
			*k = strconv.Itoa(start + i)
		}
	}
	return keys
}

func archiverFor[T benchTypes]() KeyArchiver[T] {
	var t T
	switch any(t).(type) {
	case uint64:
		return any(Uint64).(KeyArchiver[T])
	case string:
		return any(String).(KeyArchiver[T])
	default:
		panic("not reached")
	}
}

func buildFrozenMap[T benchTypes](b *testing.B, keys []T) *Map[T, T] {
	pairs := make(SlicePairs[T, T], len(keys))
	for i, k := range keys {
		pairs[i] = Pair[T, T]{k, k}
	}
	a := archiverFor[T]()
	buf, pos, err := Build(pairs, a, a)
	if err != nil {
		b.Fatal(err)
	}
	m, err := Access(buf, pos, a, a)
	if err != nil {
		b.Fatal(err)
	}
	return m
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkFrozenMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := buildFrozenMap(b, genKeys(0, n))
	b.ResetTimer()
	perfbench.Open(b)
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m.All() {
			tmp += k + v
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	missing := genKeys(n, 2*n)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[missing[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkFrozenMapGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := buildFrozenMap(b, genKeys(0, n))
	missing := genKeys(n, 2*n)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(missing[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[keys[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkFrozenMapGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	m := buildFrozenMap(b, keys)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkFrozenMapBuild[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	pairs := make(SlicePairs[T, T], n)
	for i, k := range keys {
		pairs[i] = Pair[T, T]{k, k}
	}
	a := archiverFor[T]()
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		if _, _, err := Build(pairs, a, a); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkFrozenMapCheck[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := buildFrozenMap(b, genKeys(0, n))
	a := archiverFor[T]()
	buf, pos := m.t.buf, len(m.t.buf)-TableHeaderSize
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		if err := CheckMap(NewContext(buf), pos, a, a); err != nil {
			b.Fatal(err)
		}
	}
}
