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

package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRoot()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	out, err := run(t, "run", "-c", "testdata/cluster.yaml",
		"testdata/insert.yaml", "testdata/select.yaml", "testdata/total.yaml")
	if err != nil {
		t.Fatalf("%s\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{
		"sum", "4",
		"id\tname", "2\t\"bob\"", "3\t\"cy\"", "4\t\"dee\"",
		"count\tsum",
	}
	if len(lines) != len(want)+1 {
		t.Fatalf("output:\n%s", out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
	last := strings.Split(lines[len(want)], "\t")
	if len(last) != 2 || last[0] != "4" || !strings.HasPrefix(last[1], "4") {
		t.Errorf("totals: %q", lines[len(want)])
	}
}

func TestRunParams(t *testing.T) {
	out, err := run(t, "run", "-c", "testdata/cluster.yaml", "-p", "4",
		"testdata/insert.yaml", "testdata/select.yaml")
	if err != nil {
		t.Fatalf("%s\n%s", err, out)
	}
	if !strings.HasSuffix(out, "id\tname\n4\t\"dee\"\n") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRunFailure(t *testing.T) {
	// the second insert repeats every key
	out, err := run(t, "run", "-c", "testdata/cluster.yaml", "testdata/insert.yaml", "testdata/insert.yaml")
	if err == nil || !strings.Contains(err.Error(), "duplicate key") {
		t.Fatalf("got %v\n%s", err, out)
	}
}

func TestExplain(t *testing.T) {
	out, err := run(t, "explain", "-c", "testdata/cluster.yaml", "--tree", "testdata/select.yaml")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Root [ROOT]",
		"task 00000001 @ node1:7001",
		"partScan users/users-0",
		"send coord:7000",
		"task 00000005 @ coord:7000",
		"receive node1:7001",
		"root",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	a, err := run(t, "explain", "-c", "testdata/cluster.yaml", "--fingerprint", "testdata/select.yaml")
	if err != nil {
		t.Fatal(err)
	}
	b, err := run(t, "explain", "-c", "testdata/cluster.yaml", "--fingerprint", "testdata/select.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if a != b || len(strings.TrimSpace(a)) != 64 {
		t.Errorf("fingerprints %q %q", a, b)
	}
}

func TestBadInput(t *testing.T) {
	cases := [][]string{
		{"run", "-c", "testdata/missing.yaml", "testdata/select.yaml"},
		{"run", "-c", "testdata/cluster.yaml", "testdata/missing.yaml"},
		{"run", "-c", "testdata/cluster.yaml", "-p", "x", "testdata/select.yaml"},
		{"explain", "-c", "testdata/cluster.yaml"},
		{"query", "--addr", "nohost", "testdata/select.yaml"},
	}
	for _, args := range cases {
		if out, err := run(t, args...); err == nil {
			t.Errorf("%v: expected an error\n%s", args, out)
		}
	}
}
