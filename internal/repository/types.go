package repository

import "time"

// ── Domain types for the BCR workflow ─────────────────────────────────────────

// HistoryEntry is one immutable record in a BCR's workflow history. The
// history is append-only: entries are never edited or removed, and timestamps
// are non-decreasing.
type HistoryEntry struct {
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	Comment   string    `json:"comment"`
	UpdatedBy string    `json:"updated_by"`
	Timestamp time.Time `json:"timestamp"`
}

// BCR is a Business Change Request tracked through the workflow.
type BCR struct {
	ID            string         `json:"id"`
	BCRCode       string         `json:"bcr_code"` // human code, BCR-YY/YY-NNN
	RecordNumber  int64          `json:"record_number"`
	CurrentPhase  string         `json:"current_phase"`
	Status        string         `json:"status"`
	UrgencyLevel  string         `json:"urgency_level"`
	ImpactedAreas []string       `json:"impacted_areas"`
	SubmissionID  string         `json:"submission_id"`
	History       []HistoryEntry `json:"workflow_history"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Submission is the originating request a BCR is promoted from.
type Submission struct {
	ID             string     `json:"id"`
	SubmissionCode string     `json:"submission_code"`
	RequestedBy    string     `json:"requested_by"`
	Justification  *string    `json:"justification,omitempty"`
	UrgencyLevel   string     `json:"urgency_level"`
	ImpactAreas    []string   `json:"impact_areas"`
	ReviewOutcome  *string    `json:"review_outcome,omitempty"` // Pending Review | Approved | Rejected | More Info | Paused | Rejected & Edit
	BCRID          *string    `json:"bcr_id,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Deleted reports whether the submission has been soft-deleted.
func (s *Submission) Deleted() bool {
	return s.DeletedAt != nil
}

// Review outcomes for a submission.
const (
	OutcomePendingReview = "Pending Review"
	OutcomeApproved      = "Approved"
	OutcomeRejected      = "Rejected"
	OutcomeMoreInfo      = "More Info"
	OutcomePaused        = "Paused"
	OutcomeRejectedEdit  = "Rejected & Edit"
)

// SubmissionCounts is the aggregate slice of submissions by review outcome.
type SubmissionCounts struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Approved     int `json:"approved"`
	Rejected     int `json:"rejected"`
	MoreInfo     int `json:"more_info"`
	Paused       int `json:"paused"`
	RejectedEdit int `json:"rejected_edit"`
}
