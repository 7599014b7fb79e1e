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

package physical

import (
	"fmt"
	"strconv"
	"strings"
)

// CmpOp is a comparison operator.
type CmpOp string

const (
	Eq CmpOp = "="
	Ne CmpOp = "<>"
	Lt CmpOp = "<"
	Le CmpOp = "<="
	Gt CmpOp = ">"
	Ge CmpOp = ">="
)

// Valid reports whether op is a known operator.
func (op CmpOp) Valid() bool {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}
	return false
}

// Operand is either a constant or a reference
// to a bound statement parameter.
//
// Constants are kept in text form and typed
// by the column they are compared against,
// so that they survive serialization exactly.
type Operand struct {
	// Param is the 1-based parameter number;
	// zero means the operand is Const.
	Param int    `json:"param,omitempty"`
	Const string `json:"const,omitempty"`
}

// Const returns a constant Operand.
func Const(text string) Operand { return Operand{Const: text} }

// Param returns an Operand referencing parameter n (1-based).
func Param(n int) Operand { return Operand{Param: n} }

func (o Operand) String() string {
	if o.Param > 0 {
		return "?" + strconv.Itoa(o.Param)
	}
	return o.Const
}

// Predicate compares one column with an operand.
type Predicate struct {
	Column  int     `json:"column"`
	Op      CmpOp   `json:"op"`
	Operand Operand `json:"operand"`
}

func (p Predicate) String() string {
	return fmt.Sprintf("$%d %s %s", p.Column, p.Op, p.Operand)
}

func predString(lst []Predicate) string {
	parts := make([]string, len(lst))
	for i := range lst {
		parts[i] = lst[i].String()
	}
	return strings.Join(parts, " AND ")
}

// AggFunc is an aggregate function.
type AggFunc string

const (
	Count AggFunc = "COUNT"
	Sum   AggFunc = "SUM"
	Min   AggFunc = "MIN"
	Max   AggFunc = "MAX"
)

// AggCall is one aggregate call. Column is
// ignored for COUNT (which counts rows).
type AggCall struct {
	Func   AggFunc `json:"func"`
	Column int     `json:"column"`
}

func (a AggCall) String() string {
	if a.Func == Count {
		return "COUNT(*)"
	}
	return fmt.Sprintf("%s($%d)", a.Func, a.Column)
}

// SortColumn is one ORDER BY column.
type SortColumn struct {
	Column int  `json:"column"`
	Desc   bool `json:"desc,omitempty"`
}

// ModifyOp is the kind of a table mutation.
type ModifyOp string

const (
	Insert ModifyOp = "INSERT"
	Update ModifyOp = "UPDATE"
	Delete ModifyOp = "DELETE"
)

func ints(x []int) string {
	parts := make([]string, len(x))
	for i := range x {
		parts[i] = strconv.Itoa(x[i])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
