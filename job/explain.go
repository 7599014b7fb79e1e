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
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

func (j *Job) explain(b *strings.Builder, name func(Id) string) {
	for _, t := range j.SortedTasks() {
		fmt.Fprintf(b, "task %s @ %s\n", name(t.ID), t.Location)
		for _, id := range t.ids() {
			op := t.Operators[id]
			fmt.Fprintf(b, "\t%s %s", name(id), op.describe(name))
			if outs := op.Outputs(); len(outs) > 0 {
				b.WriteString(" ->")
				for _, e := range outs {
					if e.connected() {
						fmt.Fprintf(b, " %s:%d", name(e.Op), e.Slot)
					} else {
						b.WriteString(" -")
					}
				}
			}
			b.WriteByte('\n')
		}
		b.WriteString("\trun")
		for _, id := range t.RunList {
			b.WriteString(" " + name(id))
		}
		b.WriteByte('\n')
	}
}

// String returns a description of every task,
// operator and edge of j, in id order.
func (j *Job) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s\n", j.ID)
	j.explain(&b, Id.String)
	return b.String()
}

// Fingerprint returns a hash of the shape of j:
// its locations, operator kinds, edges and
// run-lists, with every id replaced by its
// position in traversal order. Jobs that differ
// only in their ids have equal fingerprints.
func (j *Job) Fingerprint() string {
	seen := make(map[Id]string)
	name := func(id Id) string {
		if n, ok := seen[id]; ok {
			return n
		}
		n := fmt.Sprintf("#%d", len(seen))
		seen[id] = n
		return n
	}
	// number tasks and operators in order first,
	// so that forward references are stable
	for _, t := range j.SortedTasks() {
		name(t.ID)
		for _, id := range t.ids() {
			name(id)
		}
	}
	var b strings.Builder
	j.explain(&b, name)
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
