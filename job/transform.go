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
	"strconv"
	"strings"

	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/types"
)

// boundPred is a predicate whose
// operand has been resolved to a value.
type boundPred struct {
	col int
	op  physical.CmpOp
	val any
}

func checkColumns(s types.Schema, cols []int) error {
	return checkWidth(cols, len(s))
}

func checkWidth(cols []int, n int) error {
	for _, c := range cols {
		if c < 0 || c >= n {
			return fmt.Errorf("column %d out of range for %d columns", c, n)
		}
	}
	return nil
}

func checkPredicates(s types.Schema, preds []physical.Predicate) error {
	for i := range preds {
		if !preds[i].Op.Valid() {
			return fmt.Errorf("unknown comparison %q", preds[i].Op)
		}
		if err := checkColumns(s, []int{preds[i].Column}); err != nil {
			return err
		}
	}
	return nil
}

func bindPredicates(s types.Schema, preds []physical.Predicate, params types.Tuple) ([]boundPred, error) {
	out := make([]boundPred, len(preds))
	for i, p := range preds {
		typ := s[p.Column].Type
		typ.Nullable = true
		v, err := bindOperand(typ, p.Operand, params)
		if err != nil {
			return nil, fmt.Errorf("predicate %s: %w", p, err)
		}
		out[i] = boundPred{col: p.Column, op: p.Op, val: v}
	}
	return out, nil
}

// match evaluates p against t.
// Comparisons involving NULL are false.
func (p *boundPred) match(t types.Tuple) (bool, error) {
	v := t[p.col]
	if v == nil || p.val == nil {
		return false, nil
	}
	c, err := types.Compare(v, p.val)
	if err != nil {
		return false, err
	}
	switch p.op {
	case physical.Eq:
		return c == 0, nil
	case physical.Ne:
		return c != 0, nil
	case physical.Lt:
		return c < 0, nil
	case physical.Le:
		return c <= 0, nil
	case physical.Gt:
		return c > 0, nil
	case physical.Ge:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", p.op)
}

func matchAll(preds []boundPred, t types.Tuple) (bool, error) {
	for i := range preds {
		ok, err := preds[i].match(t)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func predText(preds []physical.Predicate) string {
	parts := make([]string, len(preds))
	for i := range preds {
		parts[i] = preds[i].String()
	}
	return strings.Join(parts, " AND ")
}

func intsText(x []int) string {
	parts := make([]string, len(x))
	for i := range x {
		parts[i] = strconv.Itoa(x[i])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func filterSuffix(preds []physical.Predicate, sel []int) string {
	var str string
	if len(preds) > 0 {
		str += " where " + predText(preds)
	}
	if sel != nil {
		str += " select " + intsText(sel)
	}
	return str
}

// FilterOperator forwards the tuples that
// satisfy every predicate.
type FilterOperator struct {
	Base
	// Schema is the input row type; it types
	// the constant operands of Preds.
	Schema types.Schema         `json:"schema"`
	Preds  []physical.Predicate `json:"preds"`

	preds   []boundPred
	bindErr error
}

func (f *FilterOperator) Kind() Kind { return KindFilter }

func (f *FilterOperator) Init(env *Env) error {
	return checkPredicates(f.Schema, f.Preds)
}

func (f *FilterOperator) Reset(params types.Tuple) {
	f.preds, f.bindErr = bindPredicates(f.Schema, f.Preds, params)
}

func (f *FilterOperator) Push(slot int, t types.Tuple) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	ok, err := matchAll(f.preds, t)
	if err != nil || !ok {
		return err
	}
	return f.emit(t)
}

func (f *FilterOperator) Fin(slot int, st *Status) { f.finish(st) }

func (f *FilterOperator) describe(func(Id) string) string {
	return "filter " + predText(f.Preds)
}

// ProjectOperator selects columns.
type ProjectOperator struct {
	Base
	Selection []int `json:"selection"`
}

func (p *ProjectOperator) Kind() Kind          { return KindProject }
func (p *ProjectOperator) Init(env *Env) error { return nil }
func (p *ProjectOperator) Reset(types.Tuple)   {}

func (p *ProjectOperator) Push(slot int, t types.Tuple) error {
	if err := checkWidth(p.Selection, len(t)); err != nil {
		return err
	}
	return p.emit(t.Select(p.Selection))
}

func (p *ProjectOperator) Fin(slot int, st *Status) { p.finish(st) }

func (p *ProjectOperator) describe(func(Id) string) string {
	return "project " + intsText(p.Selection)
}
