package store

import (
	"github.com/mattn/go-sqlite3"
)

// Operation is the kind of row change reported by the update hook.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func operationFromCode(op int) Operation {
	switch op {
	case sqlite3.SQLITE_INSERT:
		return OpInsert
	case sqlite3.SQLITE_DELETE:
		return OpDelete
	default:
		return OpUpdate
	}
}

// ChangeEvent is one row change reported by the engine.
type ChangeEvent struct {
	Database  string    `json:"database"`
	Table     string    `json:"table"`
	Operation Operation `json:"operation"`
	RowID     int64     `json:"row_id"`
}

// ChangeHandler receives change events after the statement that produced
// them completes. It runs under the connection lock and may use s for
// further queries.
type ChangeHandler func(s *Session, ev ChangeEvent)

// recordChange is the engine-level update hook. It runs while a statement
// is stepping and must not touch the handle.
func (c *Conn) recordChange(op int, db, table string, rowID int64) {
	c.pending = append(c.pending, ChangeEvent{
		Database:  db,
		Table:     table,
		Operation: operationFromCode(op),
		RowID:     rowID,
	})
}

// SetChangeHandler installs h, registering the engine update hook if none
// was registered. A nil h deregisters the hook and drops buffered events.
// Idempotent.
func (s *Session) SetChangeHandler(h ChangeHandler) {
	c := s.conn
	if h == nil {
		if c.onChange != nil {
			c.raw.RegisterUpdateHook(nil)
			c.onChange = nil
			c.pending = nil
			c.hookOn.Store(false)
			c.logger.Debug("update hook deregistered", "name", c.name)
		}
		return
	}
	if c.onChange == nil {
		c.raw.RegisterUpdateHook(c.recordChange)
		c.hookOn.Store(true)
		c.logger.Debug("update hook registered", "name", c.name)
	}
	c.onChange = h
}

// SetCommitHook installs fn to run whenever a transaction commits. fn runs
// during the commit and must not touch the connection. nil removes it.
func (s *Session) SetCommitHook(fn func()) {
	c := s.conn
	c.onCommit = fn
	if fn == nil {
		c.raw.RegisterCommitHook(nil)
		return
	}
	c.raw.RegisterCommitHook(func() int {
		fn()
		return 0
	})
}

// SetRollbackHook installs fn to run whenever a transaction rolls back.
// fn must not touch the connection. nil removes it.
func (s *Session) SetRollbackHook(fn func()) {
	c := s.conn
	c.onRollback = fn
	if fn == nil {
		c.raw.RegisterRollbackHook(nil)
		return
	}
	c.raw.RegisterRollbackHook(fn)
}

// flush hands buffered events to the installed handler. Events raised by
// the handler's own statements are delivered in the same pass; nested
// calls return immediately.
func (s *Session) flush() {
	c := s.conn
	if c.flushing {
		return
	}
	c.flushing = true
	defer func() { c.flushing = false }()

	for len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending[0] = ChangeEvent{}
		if len(c.pending) == 1 {
			c.pending = c.pending[:0]
		} else {
			c.pending = c.pending[1:]
		}
		if h := c.onChange; h != nil {
			h(s, ev)
		}
	}
}
