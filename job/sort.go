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
	"sort"
	"strings"
	"sync"

	"github.com/SnellerInc/distexec/heap"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

// SortOperator buffers its input and emits it
// in order when the input finishes. With a Limit,
// only Offset+Limit rows are retained.
type SortOperator struct {
	Base
	Columns []physical.SortColumn `json:"columns"`
	// Limit is the number of rows to emit;
	// zero means all of them.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	lock sync.Mutex
	rows []sortRow
	topk *heap.Bounded[sortRow]
	seq  int
	err  error
}

// sortRow remembers arrival order
// so that equal rows keep it.
type sortRow struct {
	t   types.Tuple
	seq int
}

func (s *SortOperator) Kind() Kind { return KindSort }

func (s *SortOperator) Init(env *Env) error {
	if s.Limit < 0 || s.Offset < 0 {
		return fmt.Errorf("negative limit or offset")
	}
	return nil
}

func (s *SortOperator) Reset(types.Tuple) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rows, s.seq, s.err = nil, 0, nil
	s.topk = nil
	if s.Limit > 0 {
		s.topk = heap.NewBounded(s.Offset+s.Limit, s.less)
	}
}

// less orders rows; comparison failures
// are recorded and reported at Fin.
func (s *SortOperator) less(x, y sortRow) bool {
	for _, c := range s.Columns {
		n, err := types.Compare(x.t[c.Column], y.t[c.Column])
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			return x.seq < y.seq
		}
		if n != 0 {
			return (n < 0) != c.Desc
		}
	}
	return x.seq < y.seq
}

func (s *SortOperator) Push(slot int, t types.Tuple) error {
	for _, c := range s.Columns {
		if c.Column < 0 || c.Column >= len(t) {
			return fmt.Errorf("sort column %d out of range", c.Column)
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	r := sortRow{t: t, seq: s.seq}
	s.seq++
	if s.topk != nil {
		s.topk.Add(r)
	} else {
		s.rows = append(s.rows, r)
	}
	return s.err
}

func (s *SortOperator) Fin(slot int, st *Status) {
	if st != nil {
		s.Reset(nil)
		s.finish(st)
		return
	}
	s.lock.Lock()
	var rows []sortRow
	if s.topk != nil {
		rows = s.topk.Sorted()
	} else {
		rows = s.rows
		sort.Slice(rows, func(i, j int) bool { return s.less(rows[i], rows[j]) })
	}
	err := s.err
	s.rows = nil
	s.lock.Unlock()
	if err != nil {
		s.finish(failure(s, err))
		return
	}
	if s.Offset >= len(rows) {
		rows = nil
	} else {
		rows = rows[s.Offset:]
	}
	if s.Limit > 0 && len(rows) > s.Limit {
		rows = rows[:s.Limit]
	}
	for i := range rows {
		if err := s.emit(rows[i].t); err != nil {
			st = failure(s, err)
			break
		}
	}
	s.finish(st)
}

func (s *SortOperator) describe(func(Id) string) string {
	var b strings.Builder
	b.WriteString("sort")
	for _, c := range s.Columns {
		fmt.Fprintf(&b, " $%d", c.Column)
		if c.Desc {
			b.WriteString(" desc")
		}
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", s.Limit)
	}
	if s.Offset > 0 {
		fmt.Fprintf(&b, " offset %d", s.Offset)
	}
	return b.String()
}
