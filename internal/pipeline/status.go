package pipeline

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelecting Phase = "selecting"
	PhaseExecuting Phase = "executing"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Status is a point-in-time snapshot of the driver. StepIndex and Step are
// meaningful while executing; Step also names the culprit after a failure.
type Status struct {
	Phase     Phase    `json:"phase"`
	GroupID   string   `json:"group_id,omitempty"`
	Steps     []string `json:"steps,omitempty"`
	StepIndex int      `json:"step_index"`
	Step      string   `json:"step,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Status returns the driver's current snapshot.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.status
	st.Steps = append([]string(nil), d.status.Steps...)
	return st
}

func (d *Driver) setStatus(mutate func(*Status)) {
	d.mu.Lock()
	mutate(&d.status)
	d.mu.Unlock()
}
