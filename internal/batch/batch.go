package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/mozdb/kvengine/internal/lsm"
)

// Operation represents a single batch operation.
type Operation struct {
	Type      string   `json:"type"`
	Arguments []string `json:"arguments"`
}

// Result represents the outcome of a single batch operation.
type Result struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Result    interface{}   `json:"result,omitempty"`
	Duration  time.Duration `json:"duration"`
	Operation Operation     `json:"operation"`
}

// Executor runs a sequence of put/get/delete operations against a Store.
// It is not a transaction: a failure partway through leaves earlier
// operations applied.
type Executor struct {
	store *lsm.Store
}

func NewExecutor(store *lsm.Store) *Executor {
	return &Executor{store: store}
}

// ParseCommand parses a flat argument list into a sequence of operations,
// e.g. ["put", "a", "1", "get", "a", "delete", "a"].
func ParseCommand(args []string) ([]Operation, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no batch operations specified")
	}

	var operations []Operation
	i := 0

	for i < len(args) {
		command := args[i]
		i++

		switch command {
		case "put":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("put operation requires key and value")
			}
			operations = append(operations, Operation{
				Type:      "put",
				Arguments: []string{args[i], args[i+1]},
			})
			i += 2

		case "get":
			if i >= len(args) {
				return nil, fmt.Errorf("get operation requires key")
			}
			operations = append(operations, Operation{Type: "get", Arguments: []string{args[i]}})
			i++

		case "delete", "del":
			if i >= len(args) {
				return nil, fmt.Errorf("delete operation requires key")
			}
			operations = append(operations, Operation{Type: "delete", Arguments: []string{args[i]}})
			i++

		default:
			return nil, fmt.Errorf("unknown batch command: %s", command)
		}
	}

	return operations, nil
}

// Execute runs every operation, continuing past individual failures.
func (e *Executor) Execute(operations []Operation) []Result {
	results := make([]Result, len(operations))

	for i, op := range operations {
		start := time.Now()
		result := e.executeOperation(op)
		result.Duration = time.Since(start)
		result.Operation = op
		results[i] = result
	}

	return results
}

func (e *Executor) executeOperation(op Operation) Result {
	switch op.Type {
	case "put":
		if len(op.Arguments) != 2 {
			return Result{Success: false, Error: "put requires exactly 2 arguments: key and value"}
		}
		if err := e.store.Put([]byte(op.Arguments[0]), []byte(op.Arguments[1])); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		return Result{Success: true, Result: "OK"}

	case "get":
		if len(op.Arguments) != 1 {
			return Result{Success: false, Error: "get requires exactly 1 argument: key"}
		}
		value, err := e.store.Get([]byte(op.Arguments[0]))
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		return Result{Success: true, Result: string(value)}

	case "delete":
		if len(op.Arguments) != 1 {
			return Result{Success: false, Error: "delete requires exactly 1 argument: key"}
		}
		if err := e.store.Delete([]byte(op.Arguments[0])); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		return Result{Success: true, Result: "OK"}

	default:
		return Result{Success: false, Error: fmt.Sprintf("unknown operation type: %s", op.Type)}
	}
}

// Validate checks an operation's shape before execution.
func (e *Executor) Validate(op Operation) error {
	switch op.Type {
	case "put":
		if len(op.Arguments) != 2 {
			return fmt.Errorf("put requires exactly 2 arguments")
		}
		if strings.TrimSpace(op.Arguments[0]) == "" {
			return fmt.Errorf("key cannot be empty")
		}
	case "get", "delete":
		if len(op.Arguments) != 1 {
			return fmt.Errorf("%s requires exactly 1 argument", op.Type)
		}
		if strings.TrimSpace(op.Arguments[0]) == "" {
			return fmt.Errorf("key cannot be empty")
		}
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
	return nil
}

// Summary aggregates timing and success statistics over a batch run.
type Summary struct {
	TotalOperations  int           `json:"total_operations"`
	SuccessfulOps    int           `json:"successful_operations"`
	FailedOps        int           `json:"failed_operations"`
	TotalDuration    time.Duration `json:"total_duration"`
	AverageDuration  time.Duration `json:"average_duration"`
	OperationsPerSec float64       `json:"operations_per_second"`
}

func GenerateSummary(results []Result) Summary {
	summary := Summary{TotalOperations: len(results)}

	var totalDuration time.Duration
	for _, result := range results {
		totalDuration += result.Duration
		if result.Success {
			summary.SuccessfulOps++
		} else {
			summary.FailedOps++
		}
	}
	summary.TotalDuration = totalDuration

	if len(results) > 0 {
		summary.AverageDuration = totalDuration / time.Duration(len(results))
		if totalDuration > 0 {
			summary.OperationsPerSec = float64(len(results)) / totalDuration.Seconds()
		}
	}

	return summary
}
