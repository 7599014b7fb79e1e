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

package transport

import (
	"fmt"
	"sync"

	"github.com/SnellerInc/distexec/job"
)

// Network connects Endpoints that live in one
// process. Its zero value is ready to use.
type Network struct {
	lock      sync.Mutex
	endpoints map[job.Location]*Endpoint
}

// Endpoint is the job.Transport of one Location
// on a Network.
type Endpoint struct {
	Mailbox
	net *Network
	loc job.Location
}

// Endpoint returns the endpoint at loc,
// creating it on first use.
func (n *Network) Endpoint(loc job.Location) *Endpoint {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.endpoints == nil {
		n.endpoints = make(map[job.Location]*Endpoint)
	}
	e := n.endpoints[loc]
	if e == nil {
		e = &Endpoint{net: n, loc: loc}
		n.endpoints[loc] = e
	}
	return e
}

func (n *Network) lookup(loc job.Location) *Endpoint {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.endpoints[loc]
}

// Location returns the location of e.
func (e *Endpoint) Location() job.Location { return e.loc }

// Send delivers msg synchronously. The
// destination must already have an Endpoint.
// msg must not be modified afterwards.
func (e *Endpoint) Send(loc job.Location, tag string, msg []byte) error {
	dst := e.net.lookup(loc)
	if dst == nil {
		return fmt.Errorf("transport: no endpoint at %s", loc)
	}
	dst.Deliver(tag, msg)
	return nil
}
