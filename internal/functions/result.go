package functions

import (
	"encoding/json"
	"fmt"

	"github.com/selfdb-io/selfdb/internal/model"
)

// StrictBool refuses the JSON numbers 0/1 that loosely-typed runtimes send
// where a boolean belongs.
type StrictBool bool

func (b *StrictBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("success must be a boolean")
	}
	*b = StrictBool(v)
	return nil
}

// StrictFloat accepts only JSON numbers, not numeric strings.
type StrictFloat float64

func (f *StrictFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("execution_time_ms must be a number")
	}
	*f = StrictFloat(v)
	return nil
}

// ExecutionResult is the callback body the runtime posts after running a
// function.
type ExecutionResult struct {
	ExecutionID     string        `json:"execution_id"`
	FunctionName    string        `json:"function_name"`
	Success         StrictBool    `json:"success"`
	Result          model.JSONMap `json:"result,omitempty"`
	Logs            []string      `json:"logs"`
	ExecutionTimeMS StrictFloat   `json:"execution_time_ms"`
	Timestamp       *string       `json:"timestamp,omitempty"`
	DeliveryID      *string       `json:"delivery_id,omitempty"`
}
