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
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Id identifies a Job, Task or Operator.
// Ids produced by the same generator sort
// in the order they were produced.
type Id string

func (id Id) String() string { return string(id) }

// NewJobId returns a fresh random job id.
func NewJobId() Id {
	return Id(uuid.NewString())
}

// Seq returns the n-th id of a sequence.
// Sequence ids are fixed-width so that
// they sort in generation order.
func Seq(n int) Id {
	return Id(fmt.Sprintf("%08X", n))
}

// Location is the address of an execution node.
type Location struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (l Location) String() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// ParseLocation parses the result of Location.String.
func ParseLocation(s string) (Location, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Location{}, err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return Location{}, fmt.Errorf("invalid port in location %q", s)
	}
	return Location{Host: host, Port: n}, nil
}

// MarshalText implements encoding.TextMarshaler
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Location) UnmarshalText(b []byte) error {
	loc, err := ParseLocation(string(b))
	if err != nil {
		return err
	}
	*l = loc
	return nil
}

// Less orders locations by host, then port.
func (l Location) Less(o Location) bool {
	if l.Host != o.Host {
		return l.Host < o.Host
	}
	return l.Port < o.Port
}
