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

package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

// Memory is an in-memory Store.
// The zero value is ready to use.
type Memory struct {
	lock  sync.RWMutex
	parts map[PartID]*memPart
}

type memPart struct {
	keys [][]byte // sorted
	vals map[string][]byte
}

func (m *Memory) part(id PartID, create bool) *memPart {
	p := m.parts[id]
	if p == nil && create {
		if m.parts == nil {
			m.parts = make(map[PartID]*memPart)
		}
		p = &memPart{vals: make(map[string][]byte)}
		m.parts[id] = p
	}
	return p
}

func (p *memPart) search(key []byte) int {
	return sort.Search(len(p.keys), func(i int) bool {
		return bytes.Compare(p.keys[i], key) >= 0
	})
}

// Get implements Store.Get
func (m *Memory) Get(ctx context.Context, part PartID, key []byte) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	p := m.part(part, false)
	if p == nil {
		return nil, ErrNotFound
	}
	v, ok := p.vals[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Put implements Store.Put
func (m *Memory) Put(ctx context.Context, part PartID, kvs ...KeyValue) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	p := m.part(part, true)
	for i := range kvs {
		k := string(kvs[i].Key)
		if _, ok := p.vals[k]; !ok {
			j := p.search(kvs[i].Key)
			p.keys = append(p.keys, nil)
			copy(p.keys[j+1:], p.keys[j:])
			p.keys[j] = []byte(k)
		}
		p.vals[k] = append([]byte(nil), kvs[i].Value...)
	}
	return nil
}

// Delete implements Store.Delete
func (m *Memory) Delete(ctx context.Context, part PartID, keys ...[]byte) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	p := m.part(part, false)
	if p == nil {
		return 0, nil
	}
	n := 0
	for _, key := range keys {
		if _, ok := p.vals[string(key)]; !ok {
			continue
		}
		delete(p.vals, string(key))
		j := p.search(key)
		p.keys = append(p.keys[:j], p.keys[j+1:]...)
		n++
	}
	return n, nil
}

// Scan implements Store.Scan.
// The iterator works on a snapshot of the
// partition taken when Scan is called.
func (m *Memory) Scan(ctx context.Context, part PartID, start, end []byte) (Iterator, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	it := &memIter{ctx: ctx}
	p := m.part(part, false)
	if p == nil {
		return it, nil
	}
	i := 0
	if start != nil {
		i = p.search(start)
	}
	for ; i < len(p.keys); i++ {
		k := p.keys[i]
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		it.kvs = append(it.kvs, KeyValue{Key: k, Value: p.vals[string(k)]})
	}
	return it, nil
}

// Len returns the number of entries in a partition.
func (m *Memory) Len(part PartID) int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if p := m.part(part, false); p != nil {
		return len(p.keys)
	}
	return 0
}

type memIter struct {
	ctx context.Context
	kvs []KeyValue
}

func (m *memIter) Next() (KeyValue, error) {
	if err := m.ctx.Err(); err != nil {
		return KeyValue{}, err
	}
	if len(m.kvs) == 0 {
		return KeyValue{}, io.EOF
	}
	kv := m.kvs[0]
	m.kvs = m.kvs[1:]
	return kv, nil
}

func (m *memIter) Close() error {
	m.kvs = nil
	return nil
}
