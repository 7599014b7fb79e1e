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
	"fmt"
	"strings"

	"github.com/amazon-ion/ion-go/ion"
)

// Compare orders two column values of the same kind.
// NULL sorts before every other value. Ints and floats
// compare with each other; every other kind mismatch
// is an error.
func Compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	switch a := a.(type) {
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0, nil
			case !a:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case int64:
		switch b := b.(type) {
		case int64:
			return cmp3(a < b, a > b), nil
		case float64:
			return cmp3(float64(a) < b, float64(a) > b), nil
		case *ion.Decimal:
			return ion.NewDecimalInt(a).Cmp(b), nil
		}
	case float64:
		switch b := b.(type) {
		case float64:
			return cmp3(a < b, a > b), nil
		case int64:
			return cmp3(a < float64(b), a > float64(b)), nil
		}
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b), nil
		}
	case *ion.Decimal:
		switch b := b.(type) {
		case *ion.Decimal:
			return a.Cmp(b), nil
		case int64:
			return a.Cmp(ion.NewDecimalInt(b)), nil
		}
	}
	return 0, fmt.Errorf("types: cannot compare %T with %T", a, b)
}

func cmp3(lt, gt bool) int {
	if lt {
		return -1
	}
	if gt {
		return 1
	}
	return 0
}

// Add returns a+b for numeric column values.
// NULL is the additive identity here, which is
// what SUM over a nullable column needs.
func Add(a, b any) (any, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	switch a := a.(type) {
	case int64:
		switch b := b.(type) {
		case int64:
			return a + b, nil
		case float64:
			return float64(a) + b, nil
		case *ion.Decimal:
			return ion.NewDecimalInt(a).Add(b), nil
		}
	case float64:
		switch b := b.(type) {
		case float64:
			return a + b, nil
		case int64:
			return a + float64(b), nil
		}
	case *ion.Decimal:
		switch b := b.(type) {
		case *ion.Decimal:
			return a.Add(b), nil
		case int64:
			return a.Add(ion.NewDecimalInt(b)), nil
		}
	}
	return nil, fmt.Errorf("types: cannot add %T and %T", a, b)
}
