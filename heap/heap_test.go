// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package heap

import (
	"math/rand"
	"sort"
	"testing"
)

func TestHeap(t *testing.T) {
	h := New(func(x, y int) bool { return x < y })
	for i := 0; i < 1000; i++ {
		h.Push(rand.Int())
	}
	sorted := make([]int, 0, h.Len())
	for h.Len() > 0 {
		sorted = append(sorted, h.Pop())
	}
	if !sort.IntsAreSorted(sorted) {
		t.Fatal("not sorted")
	}
}

func TestBounded(t *testing.T) {
	less := func(x, y int) bool { return x < y }
	for _, k := range []int{0, 1, 7, 100, 2000} {
		all := make([]int, 1000)
		b := NewBounded(k, less)
		for i := range all {
			all[i] = rand.Intn(500)
			b.Add(all[i])
		}
		sort.Ints(all)
		want := all
		if k < len(want) {
			want = want[:k]
		}
		got := b.Sorted()
		if len(got) != len(want) {
			t.Fatalf("k=%d: got %d items, want %d", k, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("k=%d: item %d is %d, want %d", k, i, got[i], want[i])
			}
		}
	}
}
