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

// Package debug serves the pprof handlers
// of a node on a separate listener.
package debug

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
)

// Handler returns the pprof routes under /debug/pprof/.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Listen listens on addr. An address of the form
// "unix:/path" creates a unix socket that only
// accepts connections from processes of the same
// user, where the platform can tell; anything
// else is a TCP address.
func Listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		l, err := net.Listen("unix", path)
		if err != nil {
			return nil, err
		}
		return sameUser(l), nil
	}
	return net.Listen("tcp", addr)
}

// Serve serves Handler on l in the background
// until l is closed. The outcome goes to lg.
func Serve(l net.Listener, lg *log.Logger) {
	if lg != nil {
		lg.Printf("binding pprof handlers to %s", l.Addr())
	}
	go func() {
		defer l.Close()
		err := http.Serve(l, Handler())
		if lg != nil {
			lg.Printf("debug listener %s: %s", l.Addr(), err)
		}
	}()
}
