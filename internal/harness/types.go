package harness

// Event kinds.
const (
	KindStep   = "step"
	KindNotify = "notify"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"` // "step" or "notify"

	// Label is the step op for step events and the delivery source for
	// notify events.
	Label string `json:"label"`
	DB    string `json:"db,omitempty"`

	// Result is a value.MarshalCanonical-compatible rendering of what the
	// step or delivery produced. Nil when there is nothing to show.
	Result any `json:"result,omitempty"`

	// Error is the error code when the step or re-run failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds step and notify events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step event.
func (r *Result) AddStep(seq int64, op, db string, result any, code string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    seq,
		Kind:   KindStep,
		Label:  op,
		DB:     db,
		Result: result,
		Error:  code,
	})
}

// AddNotify appends a notify event.
func (r *Result) AddNotify(seq int64, source, db string, result any, code string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    seq,
		Kind:   KindNotify,
		Label:  source,
		DB:     db,
		Result: result,
		Error:  code,
	})
}
