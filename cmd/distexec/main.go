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

// Command distexec runs distributed plans:
// as a cluster node (serve), as a client of
// one (query), or entirely in this process
// against in-memory partitions (run, explain).
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/SnellerInc/distexec/cluster"
	"github.com/SnellerInc/distexec/types"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var (
	dashv bool
)

func logger() *log.Logger {
	if !dashv {
		return nil
	}
	return log.New(os.Stderr, "", log.Lshortfile)
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "distexec",
		Short:         "Lower and execute distributed query plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&dashv, "verbose", "v", false, "log diagnostics to stderr")
	root.AddCommand(serveCmd(), queryCmd(), explainCmd(), runCmd())
	return root
}

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readQuery reads a query file; params, if any,
// replace the parameters of a file that has them.
func readQuery(path string, params []string) (*cluster.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	q := new(cluster.Query)
	if err := yaml.UnmarshalStrict(data, q); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(params) > 0 && q.ParamsType != nil {
		q.Params = params
	}
	return q, nil
}

// printRows writes rows as tab-separated text
// under a header of column names.
func printRows(w io.Writer, schema types.Schema, rows [][]string) {
	if len(schema) == 0 {
		return
	}
	names := make([]string, len(schema))
	for i := range schema {
		names[i] = schema[i].Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}
