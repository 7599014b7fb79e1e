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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// gate is a Transport whose Send blocks
// until open is closed. Message number
// failAt (1-based) fails.
type gate struct {
	open   chan struct{}
	failAt int

	lock  sync.Mutex
	sent  int
	kinds []frameKind
}

func (g *gate) Send(loc Location, tag string, msg []byte) error {
	<-g.open
	g.lock.Lock()
	defer g.lock.Unlock()
	g.sent++
	if g.sent == g.failAt {
		return errors.New("connection refused")
	}
	g.kinds = append(g.kinds, frameKind(msg[3])&^frameCompressed)
	return nil
}

func (g *gate) Register(string, func([]byte)) {}
func (g *gate) Unregister(string)             {}

func (g *gate) delivered() []frameKind {
	g.lock.Lock()
	defer g.lock.Unlock()
	return append([]frameKind(nil), g.kinds...)
}

func sendTask(t *testing.T, g *gate) (*Task, *SendOperator) {
	t.Helper()
	j := New("send")
	task := create(t, j, 1, node1)
	send := put(t, task, 2, &SendOperator{Target: coord, TargetTask: "0003", TargetOp: "0004", BatchSize: 2}).(*SendOperator)
	if err := task.Init(&Env{Transport: g}); err != nil {
		t.Fatal(err)
	}
	return task, send
}

// within fails the test if fn does
// not return in a reasonable time.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s blocked on the transport", what)
	}
}

func TestSendDoesNotWait(t *testing.T) {
	g := &gate{open: make(chan struct{})}
	task, send := sendTask(t, g)
	within(t, "push and fin", func() {
		for i := 0; i < 5; i++ {
			if err := send.Push(0, rows([2]int64{int64(i), 0})[0]); err != nil {
				t.Error(err)
			}
		}
		send.Fin(0, nil)
	})
	if done, _ := task.Outcome(send.ID()); done {
		t.Fatal("send finished before its frames were handed off")
	}
	close(g.open)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts, err := task.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.OK {
		t.Fatalf("unexpected status %s", ts)
	}
	want := []frameKind{frameData, frameData, frameData, frameFin}
	got := g.delivered()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("frames %v, want %v", got, want)
	}
}

func TestSendDeliveryFailure(t *testing.T) {
	for i, upstream := range []*Status{nil, {TaskID: "0009", OperatorID: "000A", Message: "upstream"}} {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			open := make(chan struct{})
			close(open)
			g := &gate{open: open, failAt: 1}
			task, send := sendTask(t, g)
			for n := 0; n < 6; n++ {
				// pushes after the failure report it
				send.Push(0, rows([2]int64{int64(n), 0})[0])
			}
			send.Fin(0, upstream)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ts, err := task.Wait(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if ts.OK {
				t.Fatal("expected a failure")
			}
			// nothing after the lost frame but
			// the err frame reaches the receiver
			got := g.delivered()
			if len(got) != 1 || got[0] != frameErr {
				t.Errorf("delivered %v", got)
			}
			if upstream != nil {
				if ts.Failure.Message != "upstream" {
					t.Errorf("failure %s", ts.Failure)
				}
				return
			}
			if ts.Failure.OperatorID != send.ID() || !strings.Contains(ts.Failure.Message, "connection refused") {
				t.Errorf("failure %s", ts.Failure)
			}
		})
	}
}
