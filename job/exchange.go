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
	"fmt"
	"io"
	"sync"

	"github.com/SnellerInc/distexec/compr"
	"github.com/SnellerInc/distexec/types"
)

// DefaultBatchSize is the number of tuples
// a send operator packs into one data frame.
const DefaultBatchSize = 64

// ExchangeTag is the transport tag of the
// receive operator op of task in job.
func ExchangeTag(job, task, op Id) string {
	return fmt.Sprintf("%s/%s/%s", job, task, op)
}

// SendOperator ships its input to the receive
// operator TargetOp of the task TargetTask at
// Target. It is always a sink of its own task.
//
// Frames are handed to the transport by a
// goroutine draining the operator's outbox
// in order, so Push and Fin never wait for
// the network. The operator finishes once its
// final frame has been handed off. After a
// frame cannot be sent, later data frames are
// dropped and the final frame is an err frame.
type SendOperator struct {
	Base
	Target     Location `json:"target"`
	TargetTask Id       `json:"targetTask"`
	TargetOp   Id       `json:"targetOp"`
	// Compression names the codec used for
	// large data frames; empty means none.
	Compression string `json:"compression,omitempty"`
	BatchSize   int    `json:"batchSize,omitempty"`

	codec compr.Codec
	tag   string
	lock  sync.Mutex
	batch []types.Tuple

	// outbox state, guarded by olock
	olock    sync.Mutex
	outbox   []outFrame
	draining bool
	lost     *Status
}

// outFrame is one queued frame; the final
// frame of a stream carries the status the
// stream ended with.
type outFrame struct {
	kind  frameKind
	msg   []byte
	final bool
	st    *Status
}

func (s *SendOperator) Kind() Kind { return KindSend }

func (s *SendOperator) Init(env *Env) error {
	if env == nil || env.Transport == nil {
		return fmt.Errorf("no transport to reach %s", s.Target)
	}
	if !s.sink() {
		return fmt.Errorf("send operator has outputs")
	}
	c, err := compr.Lookup(s.Compression)
	if err != nil {
		return err
	}
	s.codec = c
	s.tag = ExchangeTag(s.task.JobID, s.TargetTask, s.TargetOp)
	return nil
}

func (s *SendOperator) Reset(types.Tuple) {
	s.lock.Lock()
	s.batch = s.batch[:0]
	s.lock.Unlock()
	s.olock.Lock()
	s.outbox, s.lost = nil, nil
	s.olock.Unlock()
}

func (s *SendOperator) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// failed returns the status of the first frame
// that could not be sent, if any.
func (s *SendOperator) failed() *Status {
	s.olock.Lock()
	defer s.olock.Unlock()
	return s.lost
}

// enqueue adds f to the outbox and starts
// the drain goroutine if it is not running.
func (s *SendOperator) enqueue(f outFrame) {
	s.olock.Lock()
	s.outbox = append(s.outbox, f)
	start := !s.draining
	s.draining = true
	s.olock.Unlock()
	if start {
		go s.drain()
	}
}

func (s *SendOperator) drain() {
	for {
		s.olock.Lock()
		if len(s.outbox) == 0 {
			s.draining = false
			s.olock.Unlock()
			return
		}
		f := s.outbox[0]
		s.outbox = s.outbox[1:]
		lost := s.lost
		s.olock.Unlock()

		if lost != nil {
			if !f.final {
				continue
			}
			if f.st == nil {
				f.st = lost
			}
			f = s.terminal(f.st)
		}
		err := s.send(f.kind, f.msg)
		if err != nil {
			s.env.errorf("sending %s frame to %s for %s: %s", f.kind, s.Target, s.tag, err)
			if !f.final {
				s.olock.Lock()
				if s.lost == nil {
					s.lost = s.fail(err)
				}
				s.olock.Unlock()
				continue
			}
			if f.st == nil {
				f.st = s.fail(err)
			}
		}
		if f.final {
			s.finish(f.st)
		}
	}
}

func (s *SendOperator) send(kind frameKind, msg []byte) error {
	s.env.metrics().frame(kind, len(msg))
	return s.env.Transport.Send(s.Target, s.tag, msg)
}

// terminal returns the final frame for a
// stream that ended with st.
func (s *SendOperator) terminal(st *Status) outFrame {
	if st == nil {
		return outFrame{kind: frameFin, msg: encodeFin(), final: true}
	}
	msg, err := encodeErr(st)
	if err != nil {
		s.env.errorf("encoding status of %s: %s", s.tag, err)
		return outFrame{kind: frameFin, msg: encodeFin(), final: true, st: st}
	}
	return outFrame{kind: frameErr, msg: msg, final: true, st: st}
}

// flush queues the pending batch; the lock is held.
func (s *SendOperator) flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	msg, err := encodeData(s.codec, s.batch)
	if err != nil {
		return err
	}
	s.batch = s.batch[:0]
	s.enqueue(outFrame{kind: frameData, msg: msg})
	return nil
}

func (s *SendOperator) Push(slot int, t types.Tuple) error {
	if st := s.failed(); st != nil {
		return st
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.batch = append(s.batch, t)
	if len(s.batch) < s.batchSize() {
		return nil
	}
	return s.flush()
}

func (s *SendOperator) Fin(slot int, st *Status) {
	if s.env == nil || s.env.Transport == nil {
		s.finish(st)
		return
	}
	s.lock.Lock()
	if st == nil {
		if err := s.flush(); err != nil {
			st = s.fail(err)
		}
	}
	s.batch = s.batch[:0]
	s.lock.Unlock()
	s.enqueue(s.terminal(st))
}

func (s *SendOperator) describe(name func(Id) string) string {
	return fmt.Sprintf("send %s %s:%s", s.Target, name(s.TargetTask), name(s.TargetOp))
}

// ReceiveOperator is the source paired with a
// SendOperator in another task. Its tag is
// ExchangeTag of its own job, task and id.
type ReceiveOperator struct {
	leaf
	// From is the location of the sender.
	From Location `json:"from"`

	tag     string
	queue   *frameQueue
	started bool
	done    bool
}

func (r *ReceiveOperator) Kind() Kind { return KindReceive }

func (r *ReceiveOperator) Init(env *Env) error {
	if env == nil || env.Transport == nil {
		return fmt.Errorf("no transport to receive from %s", r.From)
	}
	r.tag = ExchangeTag(r.task.JobID, r.task.ID, r.id)
	r.queue = newFrameQueue()
	env.Transport.Register(r.tag, r.queue.put)
	return nil
}

// Reset discards frames left over from a previous
// run. Frames that arrive before the first run are
// kept, since the sender may start first.
func (r *ReceiveOperator) Reset(types.Tuple) {
	if r.started && r.queue != nil {
		r.queue.clear()
	}
	r.started, r.done = false, false
}

func (r *ReceiveOperator) close() {
	if r.queue != nil {
		r.env.Transport.Unregister(r.tag)
	}
}

func (r *ReceiveOperator) Next(ctx context.Context) ([]types.Tuple, error) {
	if r.done {
		return nil, io.EOF
	}
	r.started = true
	msg, err := r.queue.get(ctx)
	if err != nil {
		return nil, err
	}
	kind, body, err := decodeFrame(msg)
	if err != nil {
		return nil, err
	}
	switch kind {
	case frameData:
		return decodeRows(body)
	case frameFin:
		r.done = true
		return nil, io.EOF
	case frameErr:
		r.done = true
		st, err := decodeStatus(body)
		if err != nil {
			return nil, err
		}
		return nil, st
	default:
		return nil, fmt.Errorf("%w: unexpected %s frame", errFrame, kind)
	}
}

func (r *ReceiveOperator) describe(func(Id) string) string {
	return fmt.Sprintf("receive %s", r.From)
}

// frameQueue is an unbounded FIFO of
// inbound messages.
type frameQueue struct {
	lock  sync.Mutex
	msgs  [][]byte
	ready chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) put(msg []byte) {
	q.lock.Lock()
	q.msgs = append(q.msgs, msg)
	q.lock.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) get(ctx context.Context) ([]byte, error) {
	for {
		q.lock.Lock()
		if len(q.msgs) > 0 {
			msg := q.msgs[0]
			q.msgs[0] = nil
			q.msgs = q.msgs[1:]
			q.lock.Unlock()
			return msg, nil
		}
		q.lock.Unlock()
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *frameQueue) clear() {
	q.lock.Lock()
	q.msgs = nil
	q.lock.Unlock()
}
