// Copyright 2026 The Guardkernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sched

// runQueue is a singly-linked intrusive FIFO per priority band, giving
// O(1) enqueue and dequeue. Ties within a band are broken by insertion
// order (round robin); bands are scanned highest-priority first.
type runQueue struct {
	heads [MaxPriority]*Tcb
	tails [MaxPriority]*Tcb
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p >= MaxPriority {
		return MaxPriority - 1
	}
	return p
}

// push enqueues t at the tail of its band. A TCB already linked stays
// where it is: SetThreadState can flip a queued TCB out of Ready and
// back without it ever being unlinked (single next pointer, no reverse
// links), so re-pushing the same node would corrupt the list.
func (q *runQueue) push(t *Tcb) {
	if t.queued {
		return
	}
	p := clampPriority(t.Priority)
	t.next = nil
	t.queued = true
	if tail := q.tails[p]; tail != nil {
		tail.next = t
	} else {
		q.heads[p] = t
	}
	q.tails[p] = t
}

// pop removes and returns the head of the highest non-empty priority
// band, or nil if every band is empty.
func (q *runQueue) pop() *Tcb {
	for p := MaxPriority - 1; p >= 0; p-- {
		if head := q.heads[p]; head != nil {
			q.heads[p] = head.next
			if q.heads[p] == nil {
				q.tails[p] = nil
			}
			head.next = nil
			head.queued = false
			return head
		}
	}
	return nil
}
