package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/sqlbridge/internal/batch"
	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/changefeed"
	"github.com/roach88/sqlbridge/internal/reactive"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/testutil"
	"github.com/roach88/sqlbridge/internal/value"
)

// Harness is the scenario execution engine.
// It drives one Bridge and pumps its host loop itself.
type Harness struct {
	bridge *bridge.Bridge
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	result *Result
	unsubs map[string]func()
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory. Deterministic
// helpers ensure reproducible traces.
//
// Execution flow:
// 1. Create a Bridge rooted in a temporary directory
// 2. Execute steps, pumping the host loop after each one
// 3. Evaluate assertions against the trace and the databases
// 4. Shut the Bridge down and return the result
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "sqlbridge-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "sub"
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // suppress logs in scenarios

	h := &Harness{
		bridge: bridge.New(dir,
			bridge.WithLogger(logger),
			bridge.WithWorkers(1),
			bridge.WithIDGenerator(testutil.NewSequenceIDGenerator(prefix)),
		),
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
		result: NewResult(),
		unsubs: make(map[string]func()),
	}
	defer h.bridge.Shutdown()

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
		h.bridge.Loop().RunPending()
	}

	actx := &AssertionContext{Bridge: h.bridge, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// executeStep runs one step, records it in the trace and checks its
// expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, st Step) {
	out, res, err := h.dispatch(ctx, st)

	code := ""
	if err != nil {
		code = string(sqlerr.CodeOf(err))
	}
	h.result.AddStep(h.clock.Next(), st.Op, st.DB, out, code)

	for _, msg := range checkExpect(st, res, err) {
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, st.Op, msg))
	}

	h.logger.Info("scenario step completed", "step", i, "op", st.Op, "db", st.DB, "error", code)
}

// dispatch performs st. It returns the trace rendering of the outcome and,
// for execute steps, the raw result for expect checks.
func (h *Harness) dispatch(ctx context.Context, st Step) (any, *store.Result, error) {
	b := h.bridge

	switch st.Op {
	case OpOpen:
		return nil, nil, b.Open(st.DB, bridge.OpenOptions{Location: st.Location})

	case OpClose:
		return nil, nil, b.Close(st.DB)

	case OpExecute, OpExecuteRaw:
		run := b.Execute
		if st.Op == OpExecuteRaw {
			run = b.ExecuteRaw
		}
		res, err := run(ctx, st.DB, st.SQL, st.Params)
		if err != nil {
			return nil, nil, err
		}
		return res.ToMap(), res, nil

	case OpBatch:
		cmds := make([]batch.Command, len(st.Commands))
		for i, c := range st.Commands {
			cmds[i] = batch.Command{SQL: c.SQL, Params: c.Params}
		}
		res, err := b.ExecuteBatch(ctx, st.DB, cmds)
		if err != nil {
			return nil, nil, err
		}
		out := &store.Result{RowsAffected: res.RowsAffected}
		return map[string]any{"commands": res.Commands, "rowsAffected": res.RowsAffected}, out, nil

	case OpTransaction:
		err := b.Transaction(ctx, st.DB, func(tx *bridge.Tx) error {
			for _, c := range st.Commands {
				if _, err := tx.Execute(c.SQL, c.Params...); err != nil {
					return err
				}
			}
			if st.Rollback {
				return tx.Rollback()
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"committed": !st.Rollback, "statements": len(st.Commands)}, nil, nil

	case OpAttach:
		return nil, nil, b.Attach(ctx, st.DB, st.Location, st.Secondary, st.Alias)

	case OpDetach:
		return nil, nil, b.Detach(ctx, st.DB, st.Alias)

	case OpSubscribe:
		return nil, nil, h.subscribe(ctx, st)

	case OpUnsubscribe:
		if unsub, ok := h.unsubs[st.As]; ok {
			unsub()
			delete(h.unsubs, st.As)
		}
		return nil, nil, nil

	case OpUpdateHook:
		var fn reactive.UpdateFunc
		if !st.Off {
			db := st.DB
			fn = func(ev reactive.UpdateEvent) {
				h.result.AddNotify(h.clock.Next(), OpUpdateHook, db, changefeed.Message(ev), "")
			}
		}
		return nil, nil, b.UpdateHook(ctx, st.DB, fn)

	case OpCommitHook:
		return nil, nil, b.CommitHook(ctx, st.DB, h.notifier(st, "commit"))

	case OpRollbackHook:
		return nil, nil, b.RollbackHook(ctx, st.DB, h.notifier(st, "rollback"))
	}

	return nil, nil, fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) subscribe(ctx context.Context, st Step) error {
	alias, db := st.As, st.DB
	unsub, err := h.bridge.ReactiveExecute(ctx, db, reactive.Query{
		SQL:    st.SQL,
		Args:   st.Params,
		FireOn: st.FireOn,
		Callback: func(res *store.Result, err error) {
			if err != nil {
				h.result.AddNotify(h.clock.Next(), alias, db, nil, string(sqlerr.CodeOf(err)))
				return
			}
			h.result.AddNotify(h.clock.Next(), alias, db, res.ToMap(), "")
		},
	})
	if err != nil {
		return err
	}
	h.unsubs[alias] = unsub
	return nil
}

func (h *Harness) notifier(st Step, source string) func() {
	if st.Off {
		return nil
	}
	db := st.DB
	return func() {
		h.result.AddNotify(h.clock.Next(), source, db, nil, "")
	}
}

// checkExpect compares a step outcome with its expect clause and returns
// the mismatches.
func checkExpect(st Step, res *store.Result, err error) []string {
	exp := st.Expect
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, step succeeded", exp.Error)}
		}
		if got := string(sqlerr.CodeOf(err)); got != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", exp.Error, got, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if exp.RowsAffected != nil {
		if res == nil {
			errs = append(errs, "rows_affected: step has no result")
		} else if res.RowsAffected != *exp.RowsAffected {
			errs = append(errs, fmt.Sprintf("rows_affected: expected %d, got %d", *exp.RowsAffected, res.RowsAffected))
		}
	}
	if exp.InsertID != nil {
		if res == nil {
			errs = append(errs, "insert_id: step has no result")
		} else if res.InsertID != *exp.InsertID {
			errs = append(errs, fmt.Sprintf("insert_id: expected %d, got %d", *exp.InsertID, res.InsertID))
		}
	}
	if exp.Rows != nil {
		if res == nil {
			errs = append(errs, "rows: step has no result")
		} else {
			errs = append(errs, compareRows(exp.Rows, res)...)
		}
	}
	return errs
}

func compareRows(want []any, res *store.Result) []string {
	got := len(res.Rows) + len(res.RawRows)
	if got != len(want) {
		return []string{fmt.Sprintf("rows: expected %d, got %d", len(want), got)}
	}

	var errs []string
	for i, w := range want {
		switch exp := w.(type) {
		case map[string]any:
			if i >= len(res.Rows) {
				errs = append(errs, fmt.Sprintf("rows[%d]: expected an object row", i))
				continue
			}
			if msg := matchRow(res.Rows[i], exp, true); msg != "" {
				errs = append(errs, fmt.Sprintf("rows[%d]: %s", i, msg))
			}
		case []any:
			if i >= len(res.RawRows) {
				errs = append(errs, fmt.Sprintf("rows[%d]: expected a raw row", i))
				continue
			}
			if msg := matchRaw(res.RawRows[i], exp); msg != "" {
				errs = append(errs, fmt.Sprintf("rows[%d]: %s", i, msg))
			}
		default:
			errs = append(errs, fmt.Sprintf("rows[%d]: unsupported expectation %T", i, w))
		}
	}
	return errs
}

// matchRow checks that row carries the expected columns. With exact set,
// row must not carry any other column.
func matchRow(row store.Row, exp map[string]any, exact bool) string {
	if exact && row.Len() != len(exp) {
		return fmt.Sprintf("expected %d columns, got %v", len(exp), row.Columns())
	}
	for key, want := range exp {
		got, ok := row.Get(key)
		if !ok {
			return fmt.Sprintf("column %q not present in %v", key, row.Columns())
		}
		if msg := compareValue(key, want, got); msg != "" {
			return msg
		}
	}
	return ""
}

func matchRaw(raw []value.Value, exp []any) string {
	if len(raw) != len(exp) {
		return fmt.Sprintf("expected %d values, got %d", len(exp), len(raw))
	}
	for i, want := range exp {
		if msg := compareValue(fmt.Sprintf("%d", i), want, raw[i]); msg != "" {
			return msg
		}
	}
	return ""
}

func compareValue(key string, want any, got value.Value) string {
	w, err := value.ToNative(want)
	if err != nil {
		return fmt.Sprintf("column %q: %v", key, err)
	}
	if !value.Equal(w, got) {
		return fmt.Sprintf("column %q = %s, expected %s", key, value.String(got), value.String(w))
	}
	return ""
}
