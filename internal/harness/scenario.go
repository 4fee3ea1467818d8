package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbridge/internal/reactive"
)

// Scenario is a sequence of bridge operations plus assertions on the
// resulting trace and final database state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order. A failing step is recorded and does not stop
	// the scenario.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// IDPrefix prefixes generated subscription ids. Default "sub".
	IDPrefix string `yaml:"id_prefix,omitempty"`
}

// Step ops.
const (
	OpOpen         = "open"
	OpClose        = "close"
	OpExecute      = "execute"
	OpExecuteRaw   = "execute_raw"
	OpBatch        = "batch"
	OpTransaction  = "transaction"
	OpAttach       = "attach"
	OpDetach       = "detach"
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpUpdateHook   = "update_hook"
	OpCommitHook   = "commit_hook"
	OpRollbackHook = "rollback_hook"
)

// Step is one bridge operation.
type Step struct {
	Op string `yaml:"op"`
	DB string `yaml:"db"`

	// Location is the directory for open and attach; empty means the
	// scenario directory, ":memory:" an in-memory database.
	Location string `yaml:"location,omitempty"`

	SQL    string `yaml:"sql,omitempty"`
	Params []any  `yaml:"params,omitempty"`

	// Commands are the statements of batch and transaction steps.
	Commands []Command `yaml:"commands,omitempty"`

	// Rollback makes a transaction step roll back after its commands.
	Rollback bool `yaml:"rollback,omitempty"`

	// As names a subscription for subscribe, unsubscribe and trace labels.
	As     string                   `yaml:"as,omitempty"`
	FireOn []reactive.Discriminator `yaml:"fire_on,omitempty"`

	// Secondary and Alias configure attach and detach.
	Secondary string `yaml:"secondary,omitempty"`
	Alias     string `yaml:"alias,omitempty"`

	// Off removes the hook installed by a hook step.
	Off bool `yaml:"off,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Command is one statement of a batch or transaction step.
type Command struct {
	SQL    string `yaml:"sql"`
	Params []any  `yaml:"params,omitempty"`
}

// Expect checks a step outcome. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code, e.g. STEP or NOT_OPEN. When set
	// the step must fail with that code.
	Error string `yaml:"error,omitempty"`

	RowsAffected *int64 `yaml:"rows_affected,omitempty"`
	InsertID     *int64 `yaml:"insert_id,omitempty"`

	// Rows must match the result rows exactly, in order. Raw steps list
	// each row as a sequence, other steps as a mapping.
	Rows []any `yaml:"rows,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Event is the event label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected label order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// DB and Table select the queried table (final_state).
	DB    string `yaml:"db,omitempty"`
	Table string `yaml:"table,omitempty"`

	// Where filters rows; all fields must match exactly (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset of the matched row's columns (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, aliases); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, aliases map[string]bool) error {
	if st.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", i)
	}
	if st.DB == "" && st.Op != OpUnsubscribe {
		return fmt.Errorf("steps[%d]: db is required for %s", i, st.Op)
	}

	switch st.Op {
	case OpOpen, OpClose, OpUpdateHook, OpCommitHook, OpRollbackHook:
	case OpExecute, OpExecuteRaw:
		if st.SQL == "" {
			return fmt.Errorf("steps[%d]: sql is required for %s", i, st.Op)
		}
	case OpBatch, OpTransaction:
		for j, c := range st.Commands {
			if c.SQL == "" {
				return fmt.Errorf("steps[%d].commands[%d]: sql is required", i, j)
			}
		}
	case OpAttach:
		if st.Secondary == "" || st.Alias == "" {
			return fmt.Errorf("steps[%d]: secondary and alias are required for attach", i)
		}
	case OpDetach:
		if st.Alias == "" {
			return fmt.Errorf("steps[%d]: alias is required for detach", i)
		}
	case OpSubscribe:
		if st.SQL == "" || st.As == "" {
			return fmt.Errorf("steps[%d]: sql and as are required for subscribe", i)
		}
		if aliases[st.As] {
			return fmt.Errorf("steps[%d]: subscription %q already defined", i, st.As)
		}
		aliases[st.As] = true
	case OpUnsubscribe:
		if !aliases[st.As] {
			return fmt.Errorf("steps[%d]: unknown subscription %q", i, st.As)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.DB == "" || a.Table == "" {
			return fmt.Errorf("assertions[%d]: db and table are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
