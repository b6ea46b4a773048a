package features

// Task describes the work item being assigned.
type Task struct {
	Priority       string   `json:"priority"`        // Low, Medium, High, Critical
	Complexity     int      `json:"complexity"`      // 1-10
	DeadlineHours  int      `json:"deadline_hours"`  // hours until deadline
	SkillsRequired []string `json:"skills_required"` // may be empty
}

// Candidate describes one person who could take the task.
type Candidate struct {
	ID          string   `json:"id"`
	CurrentLoad int      `json:"current_load"` // active task count
	Skills      []string `json:"skills"`
	RoleLevel   string   `json:"role_level"` // Intern, Junior, Mid, Senior, Lead

	// AvgCompletionTime is carried for callers; it is not encoded.
	AvgCompletionTime float64 `json:"avg_completion_time"`
}

// IDs returns the candidate identifiers in input order.
func IDs(cands []Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}
