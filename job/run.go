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

	"golang.org/x/sync/errgroup"
)

// JobStatus is the outcome of a whole job:
// OK, or the first failure of its tasks
// in task id order.
type JobStatus struct {
	JobID   Id           `json:"jobId"`
	OK      bool         `json:"ok"`
	Failure *Status      `json:"failure,omitempty"`
	Tasks   []TaskStatus `json:"tasks"`
}

// Err returns the failure as an error, or nil.
func (js JobStatus) Err() error {
	if js.OK || js.Failure == nil {
		return nil
	}
	return js.Failure
}

// Scheduler executes jobs whose tasks all run
// in this process, possibly on behalf of
// several Locations.
type Scheduler struct {
	// EnvFor returns the environment
	// of the tasks at loc.
	EnvFor func(loc Location) (*Env, error)
}

// Execute initializes every task of j that has
// not been initialized, resets tasks that already
// ran, starts them all and waits for them.
//
// A failure in one task does not cancel the
// others; it reaches the result only through
// the operators downstream of it. The returned
// error is non-nil only if the job could not be
// started or ctx ended first.
func (s *Scheduler) Execute(ctx context.Context, j *Job) (JobStatus, error) {
	tasks := j.SortedTasks()
	// every receive must be registered (or reset)
	// before any send can start
	for _, t := range tasks {
		switch {
		case !t.inited:
			env, err := s.EnvFor(t.Location)
			if err != nil {
				return JobStatus{JobID: j.ID}, fmt.Errorf("job %s: task %s: %w", j.ID, t.ID, err)
			}
			// failures are reported through the task status
			t.Init(env)
		case t.ran:
			t.Reset()
		}
	}
	for _, t := range tasks {
		if err := t.Run(ctx); err != nil {
			return JobStatus{JobID: j.ID}, err
		}
	}
	js := JobStatus{JobID: j.ID, Tasks: make([]TaskStatus, len(tasks))}
	g, gctx := errgroup.WithContext(ctx)
	for i := range tasks {
		i := i
		g.Go(func() error {
			st, err := tasks[i].Wait(gctx)
			js.Tasks[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return js, err
	}
	js.Summarize()
	return js, nil
}

// Summarize sets OK and Failure from Tasks,
// which must be in task id order.
func (js *JobStatus) Summarize() {
	js.OK, js.Failure = true, nil
	for i := range js.Tasks {
		if !js.Tasks[i].OK {
			js.OK, js.Failure = false, js.Tasks[i].Failure
			return
		}
	}
}
