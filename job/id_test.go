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
	"testing"
)

func TestSeqOrder(t *testing.T) {
	pairs := [][2]int{
		{0, 1},
		{9, 10},
		{0xF, 0x10},
		{0xFFFF, 0x10000},
		{0xFFFFF, 0x100000},
	}
	for i := range pairs {
		a, b := Seq(pairs[i][0]), Seq(pairs[i][1])
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			if !(a < b) {
				t.Errorf("%s does not sort before %s", a, b)
			}
			if len(a) != len(b) {
				t.Errorf("%s and %s differ in width", a, b)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	good := []struct {
		in   string
		want Location
	}{
		{"node1:7001", Location{Host: "node1", Port: 7001}},
		{"127.0.0.1:80", Location{Host: "127.0.0.1", Port: 80}},
	}
	for i := range good {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			got, err := ParseLocation(good[i].in)
			if err != nil {
				t.Fatal(err)
			}
			if got != good[i].want {
				t.Errorf("got %+v", got)
			}
			if got.String() != good[i].in {
				t.Errorf("String() = %q", got.String())
			}
		})
	}
	for _, bad := range []string{"", "nohost", "host:", "host:port"} {
		if _, err := ParseLocation(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}
