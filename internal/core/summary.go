package core

// Job names as reported in summaries and accepted by the trigger surface.
const (
	JobMonthlyExpansion = "monthly-expansion"
	JobDueSweep         = "due-sweep"
)

// JobSummary is the outcome of one batch run.
type JobSummary struct {
	Job      string `json:"job"`
	RunDate  Date   `json:"run_date"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
}

// Add merges the counters of other into s.
func (s *JobSummary) Add(other JobSummary) {
	s.Created += other.Created
	s.Resolved += other.Resolved
	s.Skipped += other.Skipped
	s.Errored += other.Errored
}
