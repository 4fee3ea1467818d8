// Package batch executes ordered command lists inside one exclusive
// transaction with all-or-nothing semantics.
package batch

import (
	"context"
	"fmt"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// Command is one statement of a batch. Params are host values converted
// when the command runs, so a conversion failure rolls the batch back like
// any engine failure.
type Command struct {
	SQL    string
	Params []any
}

// Result reports the outcome of a committed batch.
type Result struct {
	RowsAffected int64 `json:"rowsAffected"`
	Commands     int   `json:"commands"`
}

const (
	beginSQL    = "BEGIN EXCLUSIVE TRANSACTION"
	commitSQL   = "COMMIT"
	rollbackSQL = "ROLLBACK"
)

// Execute runs commands in order inside one exclusive transaction on conn.
// Failures and rollbacks are logged through conn's logger.
//
// An empty list fails with EMPTY_BATCH before any transaction starts. The
// first failing command (or a panic raised while running one) rolls the
// whole batch back and its error is returned; remaining commands are
// abandoned. Rows produced by commands are discarded.
func Execute(ctx context.Context, conn *store.Conn, commands []Command) (Result, error) {
	if len(commands) == 0 {
		return Result{}, sqlerr.NewEmptyBatchError()
	}

	var res Result
	err := conn.Do(ctx, func(s *store.Session) error {
		var err error
		res, err = executeLocked(s, commands)
		return err
	})
	return res, err
}

// executeLocked is Execute for callers already holding the connection.
func executeLocked(s *store.Session, commands []Command) (res Result, err error) {
	if _, err := s.Exec(beginSQL); err != nil {
		return Result{}, fmt.Errorf("begin batch: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = sqlerr.NewStepError(fmt.Sprintf("batch aborted: %v", r))
		}
		if err != nil {
			rollback(s, err)
			res = Result{}
		}
	}()

	for i, cmd := range commands {
		params, err := value.ToNativeAll(cmd.Params)
		if err != nil {
			return Result{}, err
		}
		r, err := s.ExecuteValues(cmd.SQL, params, store.ModeNone)
		if err != nil {
			s.Conn().Logger().Debug("batch command failed", "database", s.Conn().Name(), "index", i, "error", err)
			return Result{}, err
		}
		res.RowsAffected += r.RowsAffected
	}
	res.Commands = len(commands)

	if _, err := s.Exec(commitSQL); err != nil {
		return Result{}, err
	}
	return res, nil
}

func rollback(s *store.Session, cause error) {
	if !s.InTransaction() {
		return
	}
	logger := s.Conn().Logger()
	if _, err := s.Exec(rollbackSQL); err != nil {
		logger.Error("batch rollback failed",
			"database", s.Conn().Name(),
			"cause", cause,
			"error", err,
		)
		return
	}
	logger.Debug("batch rolled back", "database", s.Conn().Name(), "cause", cause)
}
