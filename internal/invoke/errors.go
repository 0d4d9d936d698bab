package invoke

import "fmt"

// StepExecutionError reports a step process that started but exited
// non-zero. Stderr carries the captured (capped) diagnostic output; the
// orchestrator propagates the error without retrying.
type StepExecutionError struct {
	Step     string
	ExitCode int
	Stderr   string
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed with exit code %d", e.Step, e.ExitCode)
}
