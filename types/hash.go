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

package types

import (
	"github.com/dchest/siphash"
)

// fixed siphash key; every node must route
// a given key to the same destination
const (
	hashK0 = 0x736e656c6c657221
	hashK1 = 0x6469737465786563
)

// HashKey returns a deterministic hash of the
// columns of t at positions keys.
func HashKey(t Tuple, keys []int) (uint64, error) {
	var buf [64]byte
	b := buf[:0]
	var err error
	for _, k := range keys {
		b, err = AppendValue(b, t[k])
		if err != nil {
			return 0, err
		}
	}
	return siphash.Hash(hashK0, hashK1, b), nil
}

// Bucket maps t onto one of n buckets
// using HashKey over the key columns.
func Bucket(t Tuple, keys []int, n int) (int, error) {
	h, err := HashKey(t, keys)
	if err != nil {
		return 0, err
	}
	return int(h % uint64(n)), nil
}
