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
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/SnellerInc/distexec/cluster"
	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/lower"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/transport"

	"github.com/spf13/cobra"
)

// local runs a whole cluster in this process,
// one in-memory store per location, with the
// configured node as the coordinator.
type local struct {
	cfg    *cluster.Config
	tables map[string]*physical.Table
	parts  lower.Static
	net    transport.Network
	stores map[job.Location]*storage.Memory
	pool   job.Pool
	logger *log.Logger
}

func newLocal(path string, lg *log.Logger) (*local, error) {
	cfg, err := cluster.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	tables, parts, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	pool, err := job.NewPool(cfg.Workers, lg)
	if err != nil {
		return nil, err
	}
	l := &local{
		cfg:    cfg,
		tables: tables,
		parts:  parts,
		stores: make(map[job.Location]*storage.Memory),
		pool:   pool,
		logger: lg,
	}
	for _, loc := range append([]job.Location{cfg.Listen}, cfg.Locations()...) {
		l.stores[loc] = new(storage.Memory)
	}
	return l, nil
}

func (l *local) lower(q *cluster.Query) (*job.Job, error) {
	return cluster.LowerQuery(q, l.tables, &lower.Options{
		Coordinator: l.cfg.Listen,
		Resolver:    l.parts,
		Compression: l.cfg.Compression,
		BatchSize:   l.cfg.BatchSize,
	})
}

func (l *local) env(loc job.Location) (*job.Env, error) {
	st, ok := l.stores[loc]
	if !ok {
		return nil, fmt.Errorf("no node at %s", loc)
	}
	return &job.Env{
		Store:     st,
		Transport: l.net.Endpoint(loc),
		Pool:      l.pool,
		Logger:    l.logger,
	}, nil
}

func (l *local) run(ctx context.Context, w io.Writer, q *cluster.Query) error {
	j, err := l.lower(q)
	if err != nil {
		return err
	}
	defer j.Close()
	s := &job.Scheduler{EnvFor: l.env}
	js, err := s.Execute(ctx, j)
	if err != nil {
		return err
	}
	if err := js.Err(); err != nil {
		return err
	}
	r := j.Root()
	if r == nil {
		return nil
	}
	rows, err := r.Result(ctx)
	if err != nil {
		return err
	}
	text := make([][]string, len(rows))
	for i := range rows {
		text[i], err = r.Schema.FormatTuple(rows[i])
		if err != nil {
			return err
		}
	}
	printRows(w, r.Schema, text)
	return nil
}

func runCmd() *cobra.Command {
	var config string
	var params []string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Run query files in order against an in-process cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLocal(config, logger())
			if err != nil {
				return err
			}
			for _, file := range args {
				q, err := readQuery(file, params)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				err = l.run(ctx, cmd.OutOrStdout(), q)
				cancel()
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "node.yaml", "cluster configuration file")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "statement parameter (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "timeout per query file")
	return cmd
}

func explainCmd() *cobra.Command {
	var config string
	var fingerprint, tree bool
	cmd := &cobra.Command{
		Use:   "explain <file>",
		Short: "Print the job a query file lowers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLocal(config, logger())
			if err != nil {
				return err
			}
			q, err := readQuery(args[0], nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if tree {
				plan, err := q.Plan.Build(l.tables)
				if err != nil {
					return err
				}
				fmt.Fprint(w, physical.Explain(plan))
			}
			j, err := l.lower(q)
			if err != nil {
				return err
			}
			if fingerprint {
				fmt.Fprintln(w, j.Fingerprint())
				return nil
			}
			fmt.Fprint(w, j)
			return nil
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "node.yaml", "cluster configuration file")
	cmd.Flags().BoolVar(&fingerprint, "fingerprint", false, "print only the job fingerprint")
	cmd.Flags().BoolVar(&tree, "tree", false, "print the plan tree first")
	return cmd
}
