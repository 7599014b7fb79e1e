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
	"errors"
	"fmt"
)

// Status describes the failure that ended a stream.
// A nil *Status passed to Fin means normal completion.
//
// Status implements error, so a Status produced by a
// remote task travels back to the caller unchanged.
type Status struct {
	TaskID     Id     `json:"taskId"`
	OperatorID Id     `json:"operatorId"`
	Message    string `json:"message"`
}

func (s *Status) Error() string {
	return fmt.Sprintf("task %s: operator %s: %s", s.TaskID, s.OperatorID, s.Message)
}

// failure turns err into a Status naming op, unless
// err already carries a Status, in which case the
// innermost one is kept.
func failure(op Operator, err error) *Status {
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	s := &Status{OperatorID: op.ID(), Message: err.Error()}
	if t := op.Task(); t != nil {
		s.TaskID = t.ID
	}
	return s
}

// TaskStatus is the outcome of one Task: either
// OK, or the first failure seen by any of its sinks.
type TaskStatus struct {
	TaskID  Id      `json:"taskId"`
	OK      bool    `json:"ok"`
	Failure *Status `json:"failure,omitempty"`
}

// Err returns the failure as an error, or nil.
func (ts TaskStatus) Err() error {
	if ts.OK || ts.Failure == nil {
		return nil
	}
	return ts.Failure
}

func (ts TaskStatus) String() string {
	if ts.OK {
		return fmt.Sprintf("task %s: OK", ts.TaskID)
	}
	return ts.Failure.Error()
}
