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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/SnellerInc/distexec/compr"
	"github.com/SnellerInc/distexec/types"

	"sigs.k8s.io/yaml"
)

// A frame is one message between a send and
// a receive operator. Every frame starts with
// a 4-byte little-endian header
//
//	kind<<24 | len(payload)
//
// where the high bit of kind marks a
// compressed payload.
type frameKind uint8

const (
	frameData frameKind = iota + 1 // payload is a batch of tuples
	frameErr                       // payload is a yaml-encoded Status
	frameFin                       // no payload; end of stream

	frameCompressed frameKind = 0x80

	frameHeader = 4
	// data payloads at least this large are compressed
	compressThreshold = 512
	maxFrameLen       = (1 << 24) - 1
)

func (k frameKind) String() string {
	switch k &^ frameCompressed {
	case frameData:
		return "data"
	case frameErr:
		return "err"
	case frameFin:
		return "fin"
	}
	return fmt.Sprintf("frameKind(%d)", uint8(k))
}

var errFrame = errors.New("job: malformed frame")

func appendFrame(dst []byte, kind frameKind, payload []byte) ([]byte, error) {
	if len(payload) > maxFrameLen {
		return nil, fmt.Errorf("job: frame payload of %d bytes exceeds %d", len(payload), maxFrameLen)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(kind)<<24|uint32(len(payload)))
	return append(dst, payload...), nil
}

// encodeData encodes a data frame. If c is non-nil
// and the payload is large enough, the payload is
// stored as codec id, raw length, compressed bytes.
func encodeData(c compr.Codec, rows []types.Tuple) ([]byte, error) {
	var raw []byte
	raw = binary.AppendUvarint(raw, uint64(len(rows)))
	var err error
	for i := range rows {
		raw, err = types.AppendTuple(raw, rows[i])
		if err != nil {
			return nil, err
		}
	}
	kind := frameData
	if c != nil && len(raw) >= compressThreshold {
		packed := []byte{c.ID()}
		packed = binary.AppendUvarint(packed, uint64(len(raw)))
		packed = c.Compress(raw, packed)
		if len(packed) < len(raw) {
			raw, kind = packed, frameData|frameCompressed
		}
	}
	return appendFrame(nil, kind, raw)
}

func encodeFin() []byte {
	b, _ := appendFrame(nil, frameFin, nil)
	return b
}

func encodeErr(st *Status) ([]byte, error) {
	body, err := yaml.Marshal(st)
	if err != nil {
		return nil, err
	}
	return appendFrame(nil, frameErr, body)
}

// decodeFrame splits msg into its kind and its
// (decompressed) payload.
func decodeFrame(msg []byte) (frameKind, []byte, error) {
	if len(msg) < frameHeader {
		return 0, nil, errFrame
	}
	word := binary.LittleEndian.Uint32(msg)
	kind, size := frameKind(word>>24), int(word&maxFrameLen)
	body := msg[frameHeader:]
	if len(body) != size {
		return 0, nil, fmt.Errorf("%w: header says %d bytes, got %d", errFrame, size, len(body))
	}
	if kind&frameCompressed == 0 {
		return kind, body, nil
	}
	if len(body) == 0 {
		return 0, nil, errFrame
	}
	c, err := compr.ByID(body[0])
	if err != nil {
		return 0, nil, err
	}
	rawlen, n := binary.Uvarint(body[1:])
	if n <= 0 || rawlen > maxFrameLen {
		return 0, nil, errFrame
	}
	raw, err := c.Decompress(body[1+n:], int(rawlen))
	if err != nil {
		return 0, nil, err
	}
	return kind &^ frameCompressed, raw, nil
}

func decodeRows(body []byte) ([]types.Tuple, error) {
	count, n := binary.Uvarint(body)
	if n <= 0 || count > uint64(len(body)) {
		return nil, errFrame
	}
	body = body[n:]
	rows := make([]types.Tuple, 0, count)
	for i := uint64(0); i < count; i++ {
		var t types.Tuple
		var err error
		t, body, err = types.ReadTuple(body)
		if err != nil {
			return nil, err
		}
		rows = append(rows, t)
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", errFrame, len(body))
	}
	return rows, nil
}

func decodeStatus(body []byte) (*Status, error) {
	st := new(Status)
	if err := yaml.Unmarshal(body, st); err != nil {
		return nil, err
	}
	return st, nil
}
