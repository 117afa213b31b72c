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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	testCases := []struct {
		n        int
		lf       LoadFactor
		expected TableLayout
	}{
		{0, DefaultLoadFactor, TableLayout{Buckets: 0, Groups: 1, Controls: 16}},
		{1, DefaultLoadFactor, TableLayout{Buckets: 2, Groups: 2, Controls: 32}},
		{3, LoadFactor{1, 1}, TableLayout{Buckets: 3, Groups: 2, Controls: 32}},
		{7, DefaultLoadFactor, TableLayout{Buckets: 8, Groups: 2, Controls: 32}},
		{14, DefaultLoadFactor, TableLayout{Buckets: 16, Groups: 2, Controls: 32}},
		{17, LoadFactor{1, 1}, TableLayout{Buckets: 17, Groups: 2, Controls: 32}},
		{18, LoadFactor{1, 1}, TableLayout{Buckets: 18, Groups: 3, Controls: 48}},
		{100, DefaultLoadFactor, TableLayout{Buckets: 115, Groups: 9, Controls: 144}},
		{100, LoadFactor{1, 2}, TableLayout{Buckets: 200, Groups: 14, Controls: 224}},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprintf("n=%d,lf=%s", c.n, c.lf), func(t *testing.T) {
			require.Equal(t, c.expected, Layout(c.n, c.lf))
		})
	}
}

func TestLayoutLoadFactorBound(t *testing.T) {
	for _, lf := range []LoadFactor{{1, 1}, {7, 8}, {3, 4}, {2, 3}, {1, 2}, {1, 3}} {
		t.Run(lf.String(), func(t *testing.T) {
			for n := 0; n < 2000; n++ {
				l := Layout(n, lf)
				b := l.Buckets
				require.GreaterOrEqual(t, b, n)
				// n/b <= num/den
				require.LessOrEqual(t, uint64(n)*uint64(lf.Den), uint64(b)*uint64(lf.Num), "n=%d", n)
				// b is the smallest such count.
				if b > n {
					require.Greater(t, uint64(n)*uint64(lf.Den), uint64(b-1)*uint64(lf.Num), "n=%d", n)
				}
				require.Zero(t, l.Controls%maxGroupWidth)
				require.GreaterOrEqual(t, l.Controls, b+maxGroupWidth-1)
				require.Less(t, l.Controls, b+2*maxGroupWidth)
				require.Equal(t, l.Controls/maxGroupWidth, l.Groups)
			}
		})
	}
}

func TestLoadFactorValidate(t *testing.T) {
	require.NoError(t, DefaultLoadFactor.Validate())
	require.NoError(t, LoadFactor{1, 1}.Validate())
	require.Error(t, LoadFactor{0, 1}.Validate())
	require.Error(t, LoadFactor{1, 0}.Validate())
	require.Error(t, LoadFactor{9, 8}.Validate())
}

func TestEntryLayout(t *testing.T) {
	testCases := []struct {
		k, v     ValueLayout
		expected entryLayout
	}{
		{ValueLayout{8, 4}, ValueLayout{8, 8}, entryLayout{valueOffset: 8, size: 16, align: 8}},
		{ValueLayout{1, 1}, ValueLayout{4, 4}, entryLayout{valueOffset: 4, size: 8, align: 4}},
		{ValueLayout{8, 8}, ValueLayout{1, 1}, entryLayout{valueOffset: 8, size: 16, align: 8}},
		{ValueLayout{8, 4}, ValueLayout{4, 4}, entryLayout{valueOffset: 8, size: 12, align: 4}},
		{ValueLayout{4, 4}, ValueLayout{8, 4}, entryLayout{valueOffset: 4, size: 12, align: 4}},
	}
	for _, c := range testCases {
		require.Equal(t, c.expected, makeEntryLayout(c.k, c.v))
	}
}
