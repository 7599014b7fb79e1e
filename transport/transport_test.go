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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SnellerInc/distexec/job"

	"github.com/gorilla/mux"
)

type collector struct {
	lock sync.Mutex
	msgs []string
	more chan struct{}
}

func newCollector() *collector {
	return &collector{more: make(chan struct{}, 1)}
}

func (c *collector) put(msg []byte) {
	c.lock.Lock()
	c.msgs = append(c.msgs, string(msg))
	c.lock.Unlock()
	select {
	case c.more <- struct{}{}:
	default:
	}
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.lock.Lock()
		if len(c.msgs) >= n {
			out := append([]string(nil), c.msgs...)
			c.lock.Unlock()
			return out
		}
		c.lock.Unlock()
		select {
		case <-c.more:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func checkOrder(t *testing.T, got []string, n int) {
	t.Helper()
	if len(got) != n {
		t.Fatalf("got %d messages, want %d", len(got), n)
	}
	for i := range got {
		if want := fmt.Sprint(i); got[i] != want {
			t.Fatalf("message %d is %q", i, got[i])
		}
	}
}

func TestMailbox(t *testing.T) {
	var m Mailbox
	for i := 0; i < 3; i++ {
		m.Deliver("a", []byte(fmt.Sprint(i)))
	}
	m.Deliver("b", []byte("x"))
	if n := m.Held(); n != 4 {
		t.Fatalf("held %d messages", n)
	}
	c := newCollector()
	m.Register("a", c.put)
	for i := 3; i < 6; i++ {
		m.Deliver("a", []byte(fmt.Sprint(i)))
	}
	checkOrder(t, c.wait(t, 6), 6)
	if n := m.Held(); n != 1 {
		t.Fatalf("held %d messages", n)
	}
	m.Unregister("a")
	m.Unregister("b")
	m.Deliver("a", []byte("late"))
	if n := m.Held(); n != 0 {
		t.Fatalf("held %d messages after unregister", n)
	}
	if n := m.Dropped(); n != 2 {
		t.Errorf("dropped %d messages, want 2", n)
	}
	if got := c.wait(t, 6); len(got) != 6 {
		t.Errorf("handler called after unregister: %v", got)
	}
}

func TestMailboxClosedTag(t *testing.T) {
	var m Mailbox
	c := newCollector()
	m.Register("done", c.put)
	m.Unregister("done")
	msg := make([]byte, 1024)
	for i := 0; i < 1000; i++ {
		m.Deliver("done", msg)
	}
	if n := m.Held(); n != 0 {
		t.Fatalf("held %d messages for a closed tag", n)
	}
	if n := m.Dropped(); n != 1000 {
		t.Fatalf("dropped %d messages", n)
	}
	// registering again reopens the tag
	m.Register("done", c.put)
	m.Deliver("done", []byte("again"))
	if got := c.wait(t, 1); len(got) != 1 || got[0] != "again" {
		t.Fatalf("got %v", got)
	}
}

func TestMailboxExpiry(t *testing.T) {
	m := Mailbox{HoldFor: 200 * time.Millisecond}
	for i := 0; i < 5; i++ {
		m.Deliver("orphan", []byte(fmt.Sprint(i)))
	}
	m.Register("closed", func([]byte) {})
	m.Unregister("closed")
	if n := m.Held(); n != 5 {
		t.Fatalf("held %d messages", n)
	}
	time.Sleep(500 * time.Millisecond)
	if n := m.Held(); n != 0 {
		t.Fatalf("held %d messages after expiry", n)
	}
	if n := m.Dropped(); n != 5 {
		t.Fatalf("dropped %d messages", n)
	}
	// the closed tag has been forgotten, so
	// its messages are held again
	m.Deliver("closed", []byte("x"))
	if n := m.Held(); n != 1 {
		t.Fatalf("held %d messages", n)
	}
}

func TestNetwork(t *testing.T) {
	var n Network
	a := n.Endpoint(job.Location{Host: "a", Port: 1})
	b := n.Endpoint(job.Location{Host: "b", Port: 2})
	if n.Endpoint(a.Location()) != a {
		t.Fatal("endpoint not reused")
	}
	c := newCollector()
	b.Register("tag", c.put)
	for i := 0; i < 10; i++ {
		if err := a.Send(b.Location(), "tag", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	checkOrder(t, c.wait(t, 10), 10)
	if err := a.Send(job.Location{Host: "c", Port: 3}, "tag", nil); err == nil {
		t.Error("expected an error sending to a missing endpoint")
	}
}

func startPeer(t *testing.T) (*Peer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	loc, err := job.ParseLocation(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p := &Peer{Self: loc}
	r := mux.NewRouter()
	p.Route(r)
	srv.Config.Handler = r
	srv.Start()
	t.Cleanup(srv.Close)
	return p, srv
}

func TestPeer(t *testing.T) {
	a, _ := startPeer(t)
	b, srv := startPeer(t)

	// sent before the handler exists
	for i := 0; i < 5; i++ {
		if err := a.Send(b.Self, "job/0001/0002", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	c := newCollector()
	b.Register("job/0001/0002", c.put)
	for i := 5; i < 50; i++ {
		if err := a.Send(b.Self, "job/0001/0002", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	checkOrder(t, c.wait(t, 50), 50)

	self := newCollector()
	a.Register("local", self.put)
	if err := a.Send(a.Self, "local", []byte("0")); err != nil {
		t.Fatal(err)
	}
	checkOrder(t, self.wait(t, 1), 1)

	res, err := http.Post(srv.URL+ExchangePath, "application/octet-stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("untagged message: got %s", res.Status)
	}

	srv.Close()
	if err := a.Send(b.Self, "job/0001/0002", []byte("x")); err == nil {
		t.Error("expected an error sending to a closed peer")
	}
}
