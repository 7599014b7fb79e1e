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
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SnellerInc/distexec/cluster"
	"github.com/SnellerInc/distexec/debug"
	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var config, debugAddr string
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cluster node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config, debugAddr, grace)
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "node.yaml", "node configuration file")
	cmd.Flags().StringVar(&debugAddr, "debug", "", "serve pprof on this address (host:port or unix:/path)")
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "shutdown grace period")
	return cmd
}

func serve(ctx context.Context, path, debugAddr string, grace time.Duration) error {
	cfg, err := cluster.LoadConfig(path)
	if err != nil {
		return err
	}
	lg := logger()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s, err := cluster.NewServer(cfg, new(storage.Memory), lg, reg)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", cfg.Listen.String())
	if err != nil {
		return err
	}
	if debugAddr != "" {
		dl, err := debug.Listen(debugAddr)
		if err != nil {
			l.Close()
			return err
		}
		defer dl.Close()
		debug.Serve(dl, lg)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return s.Shutdown(sctx)
	})
	fmt.Fprintf(os.Stderr, "serving %s\n", cfg.Listen)
	return g.Wait()
}

func queryCmd() *cobra.Command {
	var addr string
	var params []string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "query <file>",
		Short: "Submit a query file to a cluster node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := job.ParseLocation(addr)
			if err != nil {
				return fmt.Errorf("--addr: %w", err)
			}
			q, err := readQuery(args[0], params)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			res, err := cluster.Submit(ctx, nil, loc, q)
			if err != nil {
				return err
			}
			printRows(cmd.OutOrStdout(), res.Schema, res.Rows)
			return res.Status.Err()
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:7000", "address of the coordinating node")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "statement parameter (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "query timeout")
	return cmd
}
