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

	"github.com/SnellerInc/distexec/types"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Job is a lowered query: a set of Tasks
// keyed by id, at most one of which holds
// the RootOperator.
type Job struct {
	ID         Id
	ParamsType types.Schema
	Tasks      map[Id]*Task
}

// New returns an empty job.
func New(id Id) *Job {
	return &Job{ID: id, Tasks: make(map[Id]*Task)}
}

// Create adds an empty task at loc.
func (j *Job) Create(id Id, loc Location) (*Task, error) {
	if _, ok := j.Tasks[id]; ok {
		return nil, fmt.Errorf("job %s: duplicate task id %s", j.ID, id)
	}
	t := NewTask(j.ID, id, loc)
	t.ParamsType = j.ParamsType
	j.Tasks[id] = t
	return t, nil
}

// SortedTasks returns the tasks of j in id order.
func (j *Job) SortedTasks() []*Task {
	ids := maps.Keys(j.Tasks)
	slices.Sort(ids)
	out := make([]*Task, len(ids))
	for i := range ids {
		out[i] = j.Tasks[ids[i]]
	}
	return out
}

// TaskAt returns the first task (in id order)
// at loc, or nil.
func (j *Job) TaskAt(loc Location) *Task {
	for _, t := range j.SortedTasks() {
		if t.Location == loc {
			return t
		}
	}
	return nil
}

// Root returns the root operator of j, or nil
// if the job produces no result rows.
func (j *Job) Root() *RootOperator {
	for _, t := range j.SortedTasks() {
		for _, id := range t.ids() {
			if r, ok := t.Operators[id].(*RootOperator); ok {
				return r
			}
		}
	}
	return nil
}

// SetParams binds params in every task.
// A job without ParamsType takes no parameters.
func (j *Job) SetParams(params types.Tuple) error {
	if j.ParamsType == nil && len(params) > 0 {
		return fmt.Errorf("job %s: %d parameters without a parameter type", j.ID, len(params))
	}
	if j.ParamsType != nil {
		conv, err := j.ParamsType.ConvertTuple(params)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
		params = conv
	}
	for _, t := range j.SortedTasks() {
		if err := t.SetParams(params); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the transport registrations
// of every task.
func (j *Job) Close() {
	for _, t := range j.Tasks {
		t.Close()
	}
}
