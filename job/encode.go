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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SnellerInc/distexec/types"

	"sigs.k8s.io/yaml"
)

// ErrSerialization is wrapped by every error
// that reports a malformed serialized job or task.
var ErrSerialization = errors.New("job: bad serialized form")

type opEnvelope struct {
	ID      Id              `json:"id"`
	Kind    Kind            `json:"kind"`
	Outputs []Edge          `json:"outputs,omitempty"`
	Spec    json.RawMessage `json:"spec,omitempty"`
}

type taskEnvelope struct {
	ID         Id           `json:"id"`
	JobID      Id           `json:"jobId"`
	Location   Location     `json:"location"`
	ParamsType types.Schema `json:"paramsType,omitempty"`
	Params     []string     `json:"params,omitempty"`
	RunList    []Id         `json:"runList,omitempty"`
	Operators  []opEnvelope `json:"operators"`
}

type jobEnvelope struct {
	ID         Id             `json:"id"`
	ParamsType types.Schema   `json:"paramsType,omitempty"`
	Tasks      []taskEnvelope `json:"tasks"`
}

var decoders = map[Kind]func() Operator{
	KindValues:     func() Operator { return new(ValuesOperator) },
	KindPartScan:   func() Operator { return new(PartScanOperator) },
	KindGetByKeys:  func() Operator { return new(GetByKeysOperator) },
	KindReceive:    func() Operator { return new(ReceiveOperator) },
	KindFilter:     func() Operator { return new(FilterOperator) },
	KindProject:    func() Operator { return new(ProjectOperator) },
	KindAggregate:  func() Operator { return new(AggregateOperator) },
	KindSort:       func() Operator { return new(SortOperator) },
	KindHashJoin:   func() Operator { return new(HashJoinOperator) },
	KindCoalesce:   func() Operator { return new(CoalesceOperator) },
	KindHash:       func() Operator { return new(HashOperator) },
	KindSend:       func() Operator { return new(SendOperator) },
	KindRoot:       func() Operator { return new(RootOperator) },
	KindPartModify: func() Operator { return new(PartModifyOperator) },
}

func serr(f string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(f, args...))
}

func (t *Task) envelope() (taskEnvelope, error) {
	env := taskEnvelope{
		ID:         t.ID,
		JobID:      t.JobID,
		Location:   t.Location,
		ParamsType: t.ParamsType,
		RunList:    t.RunList,
	}
	if len(t.Params) > 0 {
		if t.ParamsType == nil {
			return env, serr("task %s has parameters but no parameter types", t.ID)
		}
		text, err := t.ParamsType.FormatTuple(t.Params)
		if err != nil {
			return env, fmt.Errorf("%w: task %s params: %s", ErrSerialization, t.ID, err)
		}
		env.Params = text
	}
	for _, id := range t.ids() {
		op := t.Operators[id]
		spec, err := json.Marshal(op)
		if err != nil {
			return env, fmt.Errorf("%w: operator %s: %s", ErrSerialization, id, err)
		}
		oe := opEnvelope{ID: id, Kind: op.Kind(), Outputs: op.Outputs()}
		if string(spec) != "{}" {
			oe.Spec = spec
		}
		env.Operators = append(env.Operators, oe)
	}
	return env, nil
}

func taskFromEnvelope(env *taskEnvelope) (*Task, error) {
	t := NewTask(env.JobID, env.ID, env.Location)
	t.ParamsType = env.ParamsType
	if env.Params != nil {
		if env.ParamsType == nil {
			return nil, serr("task %s has parameters but no parameter types", env.ID)
		}
		params, err := env.ParamsType.ParseTuple(env.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: task %s params: %s", ErrSerialization, env.ID, err)
		}
		t.Params = params
	}
	for i := range env.Operators {
		oe := &env.Operators[i]
		mk, ok := decoders[oe.Kind]
		if !ok {
			return nil, serr("operator %s: unknown kind %q", oe.ID, oe.Kind)
		}
		op := mk()
		if len(oe.Spec) > 0 {
			if err := json.Unmarshal(oe.Spec, op); err != nil {
				return nil, fmt.Errorf("%w: operator %s: %s", ErrSerialization, oe.ID, err)
			}
		}
		if err := t.Put(oe.ID, op); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSerialization, err)
		}
		op.base().out = oe.Outputs
	}
	t.RunList = nil
	for _, id := range env.RunList {
		if _, ok := t.Operators[id].(Source); !ok {
			return nil, serr("task %s: run-list entry %s is not a source", env.ID, id)
		}
		t.RunList = append(t.RunList, id)
	}
	for _, op := range t.Operators {
		for _, e := range op.Outputs() {
			if e.connected() && t.Operators[e.Op] == nil {
				return nil, serr("task %s: operator %s targets unknown operator %s", t.ID, op.ID(), e.Op)
			}
		}
	}
	return t, nil
}

// MarshalText encodes t as YAML.
func (t *Task) MarshalText() ([]byte, error) {
	env, err := t.envelope()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(&env)
}

// UnmarshalTask decodes the output of Task.MarshalText.
// The result has not been initialized.
func UnmarshalTask(data []byte) (*Task, error) {
	var env taskEnvelope
	if err := yaml.UnmarshalStrict(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSerialization, err)
	}
	return taskFromEnvelope(&env)
}

// MarshalText encodes j as YAML.
func (j *Job) MarshalText() ([]byte, error) {
	env := jobEnvelope{ID: j.ID, ParamsType: j.ParamsType}
	for _, t := range j.SortedTasks() {
		te, err := t.envelope()
		if err != nil {
			return nil, err
		}
		env.Tasks = append(env.Tasks, te)
	}
	return yaml.Marshal(&env)
}

// UnmarshalJob decodes the output of Job.MarshalText.
func UnmarshalJob(data []byte) (*Job, error) {
	var env jobEnvelope
	if err := yaml.UnmarshalStrict(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSerialization, err)
	}
	j := New(env.ID)
	j.ParamsType = env.ParamsType
	for i := range env.Tasks {
		te := &env.Tasks[i]
		if te.JobID != j.ID {
			return nil, serr("task %s belongs to job %s, not %s", te.ID, te.JobID, j.ID)
		}
		if _, ok := j.Tasks[te.ID]; ok {
			return nil, serr("duplicate task id %s", te.ID)
		}
		t, err := taskFromEnvelope(te)
		if err != nil {
			return nil, err
		}
		j.Tasks[t.ID] = t
	}
	return j, nil
}
