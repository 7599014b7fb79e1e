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

// Package compr provides the block codecs
// used to compress data frames on the wire.
package compr

import (
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses whole blocks.
// Implementations are safe for concurrent use.
type Codec interface {
	// Name is the name of the algorithm
	// as accepted by Lookup.
	Name() string
	// ID is the one-byte tag written
	// in front of compressed blocks.
	ID() byte
	// Compress appends the compressed
	// contents of src to dst.
	Compress(src, dst []byte) []byte
	// Decompress decodes src, which must
	// expand to exactly size bytes.
	Decompress(src []byte, size int) ([]byte, error)
}

const (
	idZstd byte = 1
	idS2   byte = 2
)

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (z *zstdCodec) Name() string { return "zstd" }
func (z *zstdCodec) ID() byte     { return idZstd }

func (z *zstdCodec) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z *zstdCodec) Decompress(src []byte, size int) ([]byte, error) {
	ret, err := z.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	if len(ret) != size {
		return nil, fmt.Errorf("zstd: expected %d bytes decompressed; got %d", size, len(ret))
	}
	return ret, nil
}

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }
func (s2Codec) ID() byte     { return idS2 }

func (s2Codec) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Codec) Decompress(src []byte, size int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("s2: expected %d bytes decompressed; got %d", size, n)
	}
	return s2.Decode(make([]byte, size), src)
}

var (
	zstdShared *zstdCodec
	codecs     []Codec
)

func init() {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	// by default, concurrency is set to min(4, GOMAXPROCS);
	// frames are decoded from many receive units at once
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdShared = &zstdCodec{enc: enc, dec: dec}
	codecs = []Codec{zstdShared, s2Codec{}}
}

// Lookup selects a codec by name.
// The empty name and "none" select no
// compression and return (nil, nil).
func Lookup(name string) (Codec, error) {
	switch name {
	case "", "none":
		return nil, nil
	}
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("compr: unknown compression %q", name)
}

// ByID returns the codec with the given tag.
func ByID(id byte) (Codec, error) {
	for _, c := range codecs {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("compr: unknown codec id %d", id)
}
