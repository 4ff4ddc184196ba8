package workflow

// Phase is one fixed stage in the BCR lifecycle.
type Phase struct {
	Name             string `json:"name"`
	DisplayOrder     int    `json:"display_order"`
	InProgressStatus string `json:"in_progress_status"`
	CompletedStatus  string `json:"completed_status"`
}

// PhaseStatuses are the two statuses associated with a phase.
type PhaseStatuses struct {
	InProgress string `json:"in_progress"`
	Completed  string `json:"completed"`
}

// Generic statuses that are valid independent of any phase.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusSkipped    = "Skipped"
	StatusRejected   = "Rejected"
)

// Registry is an immutable snapshot of the workflow phase configuration with
// typed lookup maps built once. Administrative edits to the configuration
// produce a new Registry; the engine only ever reads one snapshot.
type Registry struct {
	phases   []Phase
	byName   map[string]Phase
	nextOf   map[string]string
	statuses map[string]bool
}

// NewRegistry builds a registry from an ordered phase list. The input is
// assumed to be sorted by display order; callers loading from the store sort
// in SQL.
func NewRegistry(phases []Phase) *Registry {
	r := &Registry{
		phases: make([]Phase, len(phases)),
		byName: make(map[string]Phase, len(phases)),
		nextOf: make(map[string]string, len(phases)),
		statuses: map[string]bool{
			StatusPending:    true,
			StatusInProgress: true,
			StatusCompleted:  true,
			StatusSkipped:    true,
			StatusRejected:   true,
		},
	}
	copy(r.phases, phases)

	for i, p := range r.phases {
		r.byName[p.Name] = p
		r.statuses[p.InProgressStatus] = true
		r.statuses[p.CompletedStatus] = true
		if i+1 < len(r.phases) {
			r.nextOf[p.Name] = r.phases[i+1].Name
		}
	}
	return r
}

// Phases returns the ordered phase list.
func (r *Registry) Phases() []Phase {
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

// FirstPhase returns the entry phase of the workflow.
func (r *Registry) FirstPhase() (Phase, bool) {
	if len(r.phases) == 0 {
		return Phase{}, false
	}
	return r.phases[0], true
}

// Lookup returns the phase with the given name.
func (r *Registry) Lookup(name string) (Phase, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// StatusesForPhase returns the in-progress/completed pair for a phase.
func (r *Registry) StatusesForPhase(name string) (PhaseStatuses, bool) {
	p, ok := r.byName[name]
	if !ok {
		return PhaseStatuses{}, false
	}
	return PhaseStatuses{InProgress: p.InProgressStatus, Completed: p.CompletedStatus}, true
}

// NextPhase returns the successor of the given phase, or false past the last.
func (r *Registry) NextPhase(name string) (Phase, bool) {
	next, ok := r.nextOf[name]
	if !ok {
		return Phase{}, false
	}
	return r.byName[next], true
}

// KnownPhase reports whether name is a configured phase.
func (r *Registry) KnownPhase(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// KnownStatus reports whether name is a valid status for any phase or one of
// the generic statuses.
func (r *Registry) KnownStatus(name string) bool {
	return r.statuses[name]
}

// IsPhaseTerminalStatus reports whether status completes or skips the given
// phase, which is what triggers auto-advance.
func (r *Registry) IsPhaseTerminalStatus(phase, status string) bool {
	p, ok := r.byName[phase]
	if !ok {
		return false
	}
	return status == p.CompletedStatus || status == StatusSkipped
}

// DefaultPhases is the seeded workflow configuration.
func DefaultPhases() []Phase {
	return []Phase{
		{Name: "Submission", DisplayOrder: 1, InProgressStatus: "Submitted", CompletedStatus: StatusCompleted},
		{Name: "Initial Assessment", DisplayOrder: 2, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Detailed Analysis", DisplayOrder: 3, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Stakeholder Consultation", DisplayOrder: 4, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Documentation", DisplayOrder: 5, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Approval Process", DisplayOrder: 6, InProgressStatus: StatusInProgress, CompletedStatus: "Approved"},
		{Name: "Implementation", DisplayOrder: 7, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Testing", DisplayOrder: 8, InProgressStatus: StatusInProgress, CompletedStatus: StatusCompleted},
		{Name: "Go Live", DisplayOrder: 9, InProgressStatus: StatusInProgress, CompletedStatus: "Implemented"},
	}
}
