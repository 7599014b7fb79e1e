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
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/amazon-ion/ion-go/ion"
)

// binary value tags
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagDecimal
)

var errShort = errors.New("types: truncated tuple encoding")

// AppendValue appends the binary encoding of v to dst.
func AppendValue(dst []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(dst, tagNull), nil
	case bool:
		if v {
			return append(dst, tagTrue), nil
		}
		return append(dst, tagFalse), nil
	case int64:
		dst = append(dst, tagInt)
		return binary.AppendVarint(dst, v), nil
	case float64:
		dst = append(dst, tagFloat)
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v)), nil
	case string:
		dst = append(dst, tagString)
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		return append(dst, v...), nil
	case *ion.Decimal:
		s := v.String()
		dst = append(dst, tagDecimal)
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...), nil
	default:
		return dst, fmt.Errorf("types: cannot encode %T", v)
	}
}

// AppendTuple appends the binary encoding of t to dst.
// The encoding is self-describing, so it can be decoded
// with ReadTuple without a schema.
func AppendTuple(dst []byte, t Tuple) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(t)))
	var err error
	for i := range t {
		dst, err = AppendValue(dst, t[i])
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func readBytes(src []byte) ([]byte, []byte, error) {
	n, k := binary.Uvarint(src)
	if k <= 0 || uint64(len(src)-k) < n {
		return nil, src, errShort
	}
	src = src[k:]
	return src[:n], src[n:], nil
}

// ReadValue decodes one value encoded with AppendValue
// and returns the value along with the remaining bytes.
func ReadValue(src []byte) (any, []byte, error) {
	if len(src) == 0 {
		return nil, src, errShort
	}
	tag, src := src[0], src[1:]
	switch tag {
	case tagNull:
		return nil, src, nil
	case tagFalse:
		return false, src, nil
	case tagTrue:
		return true, src, nil
	case tagInt:
		n, k := binary.Varint(src)
		if k <= 0 {
			return nil, src, errShort
		}
		return n, src[k:], nil
	case tagFloat:
		if len(src) < 8 {
			return nil, src, errShort
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(src)), src[8:], nil
	case tagString:
		b, rest, err := readBytes(src)
		if err != nil {
			return nil, src, err
		}
		return string(b), rest, nil
	case tagDecimal:
		b, rest, err := readBytes(src)
		if err != nil {
			return nil, src, err
		}
		d, err := ion.ParseDecimal(string(b))
		if err != nil {
			return nil, src, fmt.Errorf("types: decoding decimal: %w", err)
		}
		return d, rest, nil
	default:
		return nil, src, fmt.Errorf("types: unknown value tag %d", tag)
	}
}

// ReadTuple decodes one tuple encoded with AppendTuple
// and returns the tuple along with the remaining bytes.
func ReadTuple(src []byte) (Tuple, []byte, error) {
	n, k := binary.Uvarint(src)
	if k <= 0 {
		return nil, src, errShort
	}
	// every value takes at least one byte
	if n > uint64(len(src)-k) {
		return nil, src, errShort
	}
	src = src[k:]
	out := make(Tuple, n)
	var err error
	for i := range out {
		out[i], src, err = ReadValue(src)
		if err != nil {
			return nil, src, err
		}
	}
	return out, src, nil
}
