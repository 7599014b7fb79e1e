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

//go:build linux

package debug

import (
	"net"
	"os"
	"syscall"
)

// credListener drops connections from
// peers whose credentials fail ok.
type credListener struct {
	net.Listener
	ok func(*syscall.Ucred) bool
}

func sameUser(l net.Listener) net.Listener {
	uid := uint32(os.Getuid())
	return &credListener{
		Listener: l,
		ok:       func(c *syscall.Ucred) bool { return c.Uid == uid },
	}
}

func peerCred(c net.Conn) (*syscall.Ucred, error) {
	type sysconn interface {
		SyscallConn() (syscall.RawConn, error)
	}
	sc, ok := c.(sysconn)
	if !ok {
		return nil, syscall.EINVAL
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *syscall.Ucred
	var inner error
	err = rc.Control(func(fd uintptr) {
		cred, inner = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, inner
}

func (l *credListener) Accept() (net.Conn, error) {
	for {
		c, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		cred, err := peerCred(c)
		if err == nil && l.ok(cred) {
			return c, nil
		}
		c.Close()
	}
}
