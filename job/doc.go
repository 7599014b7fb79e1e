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

// Package job is the executable form of a query plan.
//
// A Job is a set of Tasks, one per Location. Each Task
// holds a graph of Operators connected by push edges,
// plus a run-list of the Source operators that drive it.
// Edges never cross Locations: a cross-Location edge is
// a SendOperator in the producing Task paired with a
// ReceiveOperator (a Source) in the consuming Task.
//
// Data flows by Push; the end of every edge is marked
// by exactly one Fin, which carries either nil (normal
// completion) or a *Status describing the failure that
// ended the stream. Failures are values: Push returns
// an error and Fin carries the status, and neither is
// ever signalled by panicking.
//
// The topology of a Job (its Tasks, their Operators,
// edges and run-lists) is written by a single goroutine
// while lowering and during Task.Init, and is read-only
// while Tasks run. Operator-internal state is the only
// thing mutated concurrently.
package job
