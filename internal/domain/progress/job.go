package progress

import (
	"fmt"
	"time"
)

// Job is a unit of work handed to the execution layer.
type Job struct {
	TaskID      string
	Label       string
	Input       []byte
	SubmittedAt time.Time
	// RetryOf names the task this job re-runs, if any.
	RetryOf string
}

// Validate checks the job identifies a task and carries input.
func (j Job) Validate() error {
	if err := ValidateTaskID(j.TaskID); err != nil {
		return err
	}
	if j.Label == "" {
		return fmt.Errorf("label is required: %w", ErrInvalidArgument)
	}
	if len(j.Input) == 0 {
		return fmt.Errorf("job input is empty: %w", ErrInvalidArgument)
	}
	return nil
}
