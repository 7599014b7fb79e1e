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

// Package storage describes the storage collaborator
// used by the runtime: partitioned key/value get, scan,
// put and delete, plus the codec that maps typed tuples
// onto raw keys and values.
//
// Memory is a complete in-process implementation
// of Store used by tests and by single-process runs.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get
// when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// PartID identifies one partition of a table.
type PartID string

// KeyValue is one stored entry.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Iterator yields the entries of a scan in key order.
// Next returns io.EOF once the scan is exhausted.
type Iterator interface {
	Next() (KeyValue, error)
	Close() error
}

// Store is the storage collaborator.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored at key,
	// or ErrNotFound.
	Get(ctx context.Context, part PartID, key []byte) ([]byte, error)
	// Scan returns the entries with start <= key < end.
	// A nil start or end leaves that side unbounded.
	Scan(ctx context.Context, part PartID, start, end []byte) (Iterator, error)
	// Put stores every entry in kvs.
	Put(ctx context.Context, part PartID, kvs ...KeyValue) error
	// Delete removes the given keys and returns
	// the number of keys that existed.
	Delete(ctx context.Context, part PartID, keys ...[]byte) (int, error)
}
