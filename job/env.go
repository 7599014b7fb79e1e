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
	"log"

	"github.com/SnellerInc/distexec/storage"

	"github.com/panjf2000/ants/v2"
)

// Transport moves opaque messages between Locations.
//
// Messages sent with the same tag from the same
// sender are delivered in the order they were sent.
// Messages that arrive for a tag before it is
// registered are held until Register is called.
type Transport interface {
	// Send delivers msg to the handler registered
	// for tag at loc. It may wait on the network;
	// send operators call it from their own drain
	// goroutine, never from a pool unit.
	Send(loc Location, tag string, msg []byte) error
	// Register installs the handler for tag
	// at this Location.
	Register(tag string, fn func(msg []byte))
	// Unregister removes the handler for tag.
	Unregister(tag string)
}

// Pool runs units of work.
type Pool interface {
	Submit(fn func()) error
}

// NewPool returns a worker pool backed by ants.
// A size <= 0 creates an unbounded pool, which
// is required whenever a task contains receive
// units that park a worker while waiting for data.
func NewPool(size int, logger *log.Logger) (*ants.Pool, error) {
	if size <= 0 {
		size = -1
	}
	opts := []ants.Option{
		ants.WithPanicHandler(func(p any) {
			if logger != nil {
				logger.Printf("job: worker panic: %v", p)
			}
		}),
	}
	if logger != nil {
		opts = append(opts, ants.WithLogger(logger))
	}
	return ants.NewPool(size, opts...)
}

type defaultPool struct{}

func (defaultPool) Submit(fn func()) error { return ants.Submit(fn) }

// Env supplies the collaborators of the
// operators of one Task.
type Env struct {
	// Store backs scans, lookups and mutations.
	Store storage.Store
	// Transport carries send/receive frames.
	Transport Transport
	// Pool runs run-list units.
	// If Pool is nil, the shared ants pool is used.
	Pool Pool
	// Logger, if non-nil, receives diagnostics.
	Logger *log.Logger
	// Metrics, if non-nil, is updated as tasks run.
	Metrics *Metrics
}

func (e *Env) pool() Pool {
	if e == nil || e.Pool == nil {
		return defaultPool{}
	}
	return e.Pool
}

func (e *Env) logf(f string, args ...any) {
	if e == nil || e.Logger == nil {
		return
	}
	e.Logger.Output(2, fmt.Sprintf(f, args...))
}

func (e *Env) errorf(f string, args ...any) {
	e.logf("error: "+f, args...)
}

func (e *Env) metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.Metrics
}
