// Package tasks keeps an in-memory task list consistent with the remote task
// table: one bulk fetch, then change-feed events folded in delivery order.
package tasks

import (
	"sync"

	"tasksync/internal/service"
)

// List is the local task collection.
//
// Mutations come from the bulk load, the change feed and local edit helpers.
// The mutex only serializes feed callbacks with command calls; events are
// applied in the order they are delivered.
type List struct {
	mu        sync.Mutex
	items     []service.Task
	listeners []func([]service.Task)
}

// NewList creates an empty list.
func NewList() *List {
	return &List{}
}

// OnChange registers fn to receive a snapshot after every local change.
func (l *List) OnChange(fn func([]service.Task)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Snapshot returns a copy of the current collection.
func (l *List) Snapshot() []service.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Len returns the number of tasks held.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Find returns the task with the given ID.
func (l *List) Find(id int64) (service.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(id); i >= 0 {
		return l.items[i], true
	}
	return service.Task{}, false
}

// Replace swaps the whole collection for rows, each marked not being edited.
func (l *List) Replace(rows []service.Task) {
	items := make([]service.Task, len(rows))
	for i, row := range rows {
		row.IsBeingEdited = false
		items[i] = row
	}

	l.mu.Lock()
	l.items = items
	l.notifyLocked()
	l.mu.Unlock()
}

// Apply folds one change event into the collection and reports whether the
// collection changed.
//
// Inserts append without checking for an existing row with the same ID.
// Updates replace every row with the matching ID in place and clear its edit flag, which
// discards any edit in progress. Updates and deletes for unknown IDs are
// no-ops, as is any other event kind.
func (l *List) Apply(ev service.ChangeEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e := ev.(type) {
	case service.Inserted:
		task := e.Task
		task.IsBeingEdited = false
		l.items = append(l.items, task)
	case service.Updated:
		task := e.Task
		task.IsBeingEdited = false
		matched := false
		for i := range l.items {
			if l.items[i].ID == task.ID {
				l.items[i] = task
				matched = true
			}
		}
		if !matched {
			return false
		}
	case service.Deleted:
		i := l.indexLocked(e.ID)
		if i < 0 {
			return false
		}
		kept := make([]service.Task, 0, len(l.items)-1)
		for _, t := range l.items {
			if t.ID != e.ID {
				kept = append(kept, t)
			}
		}
		l.items = kept
	default:
		return false
	}

	l.notifyLocked()
	return true
}

// BeginEdit marks the task as being edited.
func (l *List) BeginEdit(id int64) bool {
	return l.modify(id, func(t *service.Task) {
		t.IsBeingEdited = true
	})
}

// SetFields changes the local title and description of a task. The change
// stays local until Manager.Save writes it back.
func (l *List) SetFields(id int64, title, description string) bool {
	return l.modify(id, func(t *service.Task) {
		t.Title = title
		t.Description = description
	})
}

// CancelEdit clears the edit flag without saving. Field changes already made
// with SetFields stay in the local record until the next load or update.
func (l *List) CancelEdit(id int64) bool {
	return l.ClearEditing(id)
}

// ClearEditing clears the edit flag of a task.
func (l *List) ClearEditing(id int64) bool {
	return l.modify(id, func(t *service.Task) {
		t.IsBeingEdited = false
	})
}

func (l *List) modify(id int64, fn func(*service.Task)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return false
	}
	fn(&l.items[i])
	l.notifyLocked()
	return true
}

func (l *List) indexLocked(id int64) int {
	for i, t := range l.items {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (l *List) snapshotLocked() []service.Task {
	out := make([]service.Task, len(l.items))
	copy(out, l.items)
	return out
}

// notifyLocked runs listeners with the lock held, so they observe changes in
// the order they were applied. Listeners must not call back into the List.
func (l *List) notifyLocked() {
	if len(l.listeners) == 0 {
		return
	}
	snap := l.snapshotLocked()
	for _, fn := range l.listeners {
		fn(snap)
	}
}
