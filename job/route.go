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

package job

import (
	"fmt"
	"sync"

	"github.com/SnellerInc/distexec/types"
)

// CoalesceOperator merges Inputs streams into one.
// Forwarding is serialized, so the successor sees
// a single writer; the merged order is unspecified.
// Fin is forwarded once every input has finished,
// carrying the first failure seen.
type CoalesceOperator struct {
	Base
	Inputs int `json:"inputs"`

	lock  sync.Mutex
	done  []bool
	left  int
	first *Status
}

func (c *CoalesceOperator) Kind() Kind { return KindCoalesce }

func (c *CoalesceOperator) Init(env *Env) error {
	if c.Inputs < 1 {
		return fmt.Errorf("coalesce needs at least one input")
	}
	return nil
}

func (c *CoalesceOperator) Reset(types.Tuple) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.done = make([]bool, c.Inputs)
	c.left = c.Inputs
	c.first = nil
}

func (c *CoalesceOperator) Push(slot int, t types.Tuple) error {
	if err := checkSlot(c, slot, c.Inputs); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.emit(t)
}

func (c *CoalesceOperator) Fin(slot int, st *Status) {
	if checkSlot(c, slot, c.Inputs) != nil {
		return
	}
	c.lock.Lock()
	if c.done[slot] {
		c.lock.Unlock()
		return
	}
	c.done[slot] = true
	c.left--
	if st != nil && c.first == nil {
		c.first = st
	}
	last, first := c.left == 0, c.first
	c.lock.Unlock()
	if last {
		c.finish(first)
	}
}

func (c *CoalesceOperator) describe(func(Id) string) string {
	return fmt.Sprintf("coalesce %d", c.Inputs)
}

// HashOperator routes each tuple to one of its
// outputs by hashing the Keys columns; output i
// leads to destination partition i.
type HashOperator struct {
	Base
	Keys    []int `json:"keys"`
	Buckets int   `json:"buckets"`
}

func (h *HashOperator) Kind() Kind { return KindHash }

func (h *HashOperator) Init(env *Env) error {
	if h.Buckets < 1 {
		return fmt.Errorf("hash needs at least one bucket")
	}
	if len(h.out) != h.Buckets {
		return fmt.Errorf("hash has %d outputs for %d buckets", len(h.out), h.Buckets)
	}
	return nil
}

func (h *HashOperator) Reset(types.Tuple) {}

func (h *HashOperator) Push(slot int, t types.Tuple) error {
	if err := checkWidth(h.Keys, len(t)); err != nil {
		return err
	}
	b, err := types.Bucket(t, h.Keys, h.Buckets)
	if err != nil {
		return err
	}
	return h.emitTo(b, t)
}

func (h *HashOperator) Fin(slot int, st *Status) { h.finish(st) }

func (h *HashOperator) describe(func(Id) string) string {
	return fmt.Sprintf("hash %s into %d", intsText(h.Keys), h.Buckets)
}
