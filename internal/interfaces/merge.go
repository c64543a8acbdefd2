package interfaces

// MergeUpdate folds next over prev field by field. Fields missing from next
// keep their previous value. Once prev carries a terminal status, any update
// reporting a different status is rejected and prev is returned unchanged
// with applied == false.
func MergeUpdate(prev, next JobUpdate) (merged JobUpdate, applied bool) {
	if prev.Status.IsTerminal() && next.Status != "" && next.Status != prev.Status {
		return prev, false
	}

	merged = prev
	if merged.JobID == "" {
		merged.JobID = next.JobID
	}
	if next.Status != "" {
		merged.Status = next.Status
	}
	if next.Progress != nil {
		p := ClampProgress(*next.Progress)
		merged.Progress = &p
	}
	if next.Message != nil {
		merged.Message = next.Message
	}
	if next.Result != nil {
		merged.Result = next.Result
	}
	if next.Error != nil {
		merged.Error = next.Error
	}
	if next.CreatedAt != nil {
		merged.CreatedAt = next.CreatedAt
	}
	if next.UpdatedAt != nil {
		merged.UpdatedAt = next.UpdatedAt
	}
	if next.CompletedAt != nil {
		merged.CompletedAt = next.CompletedAt
	}
	if !next.ReceivedAt.IsZero() {
		merged.ReceivedAt = next.ReceivedAt
	}
	return merged, true
}

// ClampProgress bounds a progress value to 0..100.
func ClampProgress(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
