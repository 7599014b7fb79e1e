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

// Package lower turns an annotated physical plan
// into a job.Job.
//
// Lowering is a post-order walk of the plan. The
// result of lowering a subtree is the list of its
// dangling output streams: operator output slots
// that are not yet connected, each in some task
// and optionally tagged with the table partition
// the stream belongs to. Each parent node consumes
// the streams of its inputs and produces its own.
package lower

import (
	"errors"
	"fmt"
	"sort"

	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/types"
)

// ErrLowering is wrapped by every *Error.
var ErrLowering = errors.New("cannot lower plan")

// Error is returned when a plan cannot be lowered.
type Error struct {
	// Node is the offending plan node.
	Node physical.Node
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lower: %s: %s", e.Node, e.Msg)
}

func (e *Error) Unwrap() error { return ErrLowering }

func reject(n physical.Node, f string, args ...any) error {
	return &Error{Node: n, Msg: fmt.Sprintf(f, args...)}
}

// Partition is one partition of a table
// and the location that serves it.
type Partition struct {
	ID       storage.PartID `json:"id"`
	Location job.Location   `json:"location"`
}

// Resolver maps tables onto their partitions.
//
// A row belongs to partition i of the list
// (ordered by partition id) when
// types.Bucket(row, keys, len(list)) == i,
// where keys are the table's key columns.
type Resolver interface {
	Partitions(table string) ([]Partition, error)
}

// Static is a fixed Resolver.
type Static map[string][]Partition

func (s Static) Partitions(table string) ([]Partition, error) {
	parts, ok := s[table]
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("no partitions for table %q", table)
	}
	return parts, nil
}

// Options configure lowering.
type Options struct {
	// JobID is the id of the new job;
	// if empty a random id is generated.
	JobID job.Id
	// Coordinator is the location that
	// receives the result of the job.
	Coordinator job.Location
	Resolver    Resolver
	// ParamsType is the type of the
	// statement parameters, if any.
	ParamsType types.Schema
	// Compression names the codec used by send
	// operators. The default is "zstd";
	// "none" disables compression.
	Compression string
	// BatchSize is the number of tuples
	// per data frame; zero means the default.
	BatchSize int
}

// Context is the state of one lowering.
type Context struct {
	opts  *Options
	job   *job.Job
	seq   int
	tasks map[job.Location]*job.Task
	parts map[string][]Partition
	root  bool
}

// stream is a dangling output slot.
type stream struct {
	task   *job.Task
	op     job.Operator
	out    int
	part   *Partition // nil if not partition-bound
	schema types.Schema
	// hashed is set for the outputs of a hash
	// router; output i leads to hashed[i].
	hashed []Partition
}

func (s *stream) hint() storage.PartID {
	if s.part == nil {
		return ""
	}
	return s.part.ID
}

// Lower lowers the plan rooted at root.
// No job is returned if lowering fails.
func Lower(root physical.Node, opts *Options) (*job.Job, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("lower: no partition resolver")
	}
	id := opts.JobID
	if id == "" {
		id = job.NewJobId()
	}
	c := &Context{
		opts:  opts,
		job:   job.New(id),
		tasks: make(map[job.Location]*job.Task),
		parts: make(map[string][]Partition),
	}
	c.job.ParamsType = opts.ParamsType
	if _, err := c.walk(root); err != nil {
		return nil, err
	}
	return c.job, nil
}

func (c *Context) next() job.Id {
	c.seq++
	return job.Seq(c.seq)
}

// taskAt returns the task at loc,
// creating it on first use.
func (c *Context) taskAt(loc job.Location) *job.Task {
	if t := c.tasks[loc]; t != nil {
		return t
	}
	t, err := c.job.Create(c.next(), loc)
	if err != nil {
		// ids are never reused
		panic(err)
	}
	c.tasks[loc] = t
	return t
}

func (c *Context) put(t *job.Task, op job.Operator) job.Operator {
	if err := t.Put(c.next(), op); err != nil {
		panic(err)
	}
	return op
}

// partitions returns the partitions of
// table, ordered by partition id.
func (c *Context) partitions(n physical.Node, table string) ([]Partition, error) {
	if parts, ok := c.parts[table]; ok {
		return parts, nil
	}
	parts, err := c.opts.Resolver.Partitions(table)
	if err != nil {
		return nil, reject(n, "resolving partitions: %s", err)
	}
	if len(parts) == 0 {
		return nil, reject(n, "table %s has no partitions", table)
	}
	parts = append([]Partition(nil), parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	for i := 1; i < len(parts); i++ {
		if parts[i].ID == parts[i-1].ID {
			return nil, reject(n, "table %s has duplicate partition %s", table, parts[i].ID)
		}
	}
	c.parts[table] = parts
	return parts, nil
}

// attach connects s to input slot in of op,
// which must be in the same task.
func attach(s *stream, op job.Operator, in int) {
	job.Connect(s.op, s.out, op, in)
}

func (c *Context) compression() string {
	if c.opts.Compression == "" {
		return "zstd"
	}
	return c.opts.Compression
}

func (c *Context) walk(n physical.Node) ([]stream, error) {
	switch n := n.(type) {
	case *physical.TableScan:
		return c.tableScan(n)
	case *physical.GetByKeys:
		return c.getByKeys(n)
	case *physical.Values:
		return c.values(n)
	case *physical.Hash:
		return c.hash(n)
	case *physical.Root:
		return c.rootNode(n)
	}
	inputs := n.Inputs()
	in := make([][]stream, len(inputs))
	for i := range inputs {
		s, err := c.walk(inputs[i])
		if err != nil {
			return nil, err
		}
		if err := plain(n, s); err != nil {
			if _, ok := n.(*physical.Exchange); !ok {
				return nil, err
			}
		}
		in[i] = s
	}
	switch n := n.(type) {
	case *physical.Filter:
		return c.filter(n, in[0])
	case *physical.Project:
		return c.project(n, in[0])
	case *physical.Aggregate:
		return c.aggregate(n, in[0])
	case *physical.Sort:
		return c.sort(n, in[0])
	case *physical.HashJoin:
		return c.join(n, in[0], in[1])
	case *physical.Exchange:
		return c.exchange(n, in[0])
	case *physical.Coalesce:
		return c.coalesce(n, in[0])
	case *physical.PartModify:
		return c.modify(n, in[0])
	default:
		return nil, reject(n, "unsupported plan node %T", n)
	}
}

// plain rejects hash router outputs, which
// may only be consumed by an Exchange.
func plain(n physical.Node, lst []stream) error {
	for i := range lst {
		if lst[i].hashed != nil {
			return reject(n, "the output of a Hash must feed an Exchange")
		}
	}
	return nil
}
