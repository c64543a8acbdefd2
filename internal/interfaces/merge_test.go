package interfaces

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestMergeUpdate_KeepsMissingFields(t *testing.T) {
	a := JobUpdate{JobID: "j1", Status: StatusProcessing, Progress: intPtr(40)}
	b := JobUpdate{JobID: "j1", Message: strPtr("done")}

	merged, applied := MergeUpdate(a, b)

	require.True(t, applied)
	require.NotNil(t, merged.Progress)
	assert.Equal(t, 40, *merged.Progress)
	require.NotNil(t, merged.Message)
	assert.Equal(t, "done", *merged.Message)
	assert.Equal(t, StatusProcessing, merged.Status)
}

func TestMergeUpdate_TerminalIsAbsorbing(t *testing.T) {
	tests := []struct {
		name     string
		recorded JobStatus
		incoming JobStatus
		applied  bool
		want     JobStatus
	}{
		{name: "completed then processing", recorded: StatusCompleted, incoming: StatusProcessing, applied: false, want: StatusCompleted},
		{name: "failed then pending", recorded: StatusFailed, incoming: StatusPending, applied: false, want: StatusFailed},
		{name: "cancelled then completed", recorded: StatusCancelled, incoming: StatusCompleted, applied: false, want: StatusCancelled},
		{name: "completed repeated", recorded: StatusCompleted, incoming: StatusCompleted, applied: true, want: StatusCompleted},
		{name: "completed then statusless", recorded: StatusCompleted, incoming: "", applied: true, want: StatusCompleted},
		{name: "pending then processing", recorded: StatusPending, incoming: StatusProcessing, applied: true, want: StatusProcessing},
		{name: "processing then pending", recorded: StatusProcessing, incoming: StatusPending, applied: true, want: StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := JobUpdate{JobID: "j1", Status: tt.recorded, Progress: intPtr(10)}
			next := JobUpdate{JobID: "j1", Status: tt.incoming, Progress: intPtr(90)}

			merged, applied := MergeUpdate(prev, next)

			assert.Equal(t, tt.applied, applied)
			assert.Equal(t, tt.want, merged.Status)
			if !tt.applied {
				assert.Equal(t, 10, *merged.Progress, "rejected update must not leak fields")
			}
		})
	}
}

func TestMergeUpdate_NeverRegressesFromTerminal(t *testing.T) {
	statuses := []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusProcessing, StatusFailed, StatusPending, StatusCompleted}

	var rec JobUpdate
	var terminal JobStatus
	for _, s := range statuses {
		rec, _ = MergeUpdate(rec, JobUpdate{JobID: "j1", Status: s})
		if terminal != "" {
			assert.Equal(t, terminal, rec.Status)
		}
		if rec.Status.IsTerminal() && terminal == "" {
			terminal = rec.Status
		}
	}
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestMergeUpdate_IsIdempotent(t *testing.T) {
	now := time.Now()
	u := JobUpdate{
		JobID:      "j1",
		Status:     StatusCompleted,
		Progress:   intPtr(100),
		Result:     json.RawMessage(`{"pdf":"R"}`),
		ReceivedAt: now,
	}

	once, _ := MergeUpdate(JobUpdate{}, u)
	twice, applied := MergeUpdate(once, u)

	assert.True(t, applied)
	assert.Equal(t, once, twice)
}

func TestMergeUpdate_ClampsProgress(t *testing.T) {
	merged, _ := MergeUpdate(JobUpdate{}, JobUpdate{JobID: "j1", Progress: intPtr(140)})
	assert.Equal(t, 100, *merged.Progress)

	merged, _ = MergeUpdate(merged, JobUpdate{JobID: "j1", Progress: intPtr(-5)})
	assert.Equal(t, 0, *merged.Progress)
}

func TestUpdateData_Update(t *testing.T) {
	var data UpdateData
	require.NoError(t, json.Unmarshal([]byte(`{"status":"processing","progress":49.6,"message":"compiling","completed_at":1700000000.5}`), &data))

	u := data.Update("abc123")

	assert.Equal(t, "abc123", u.JobID)
	assert.Equal(t, StatusProcessing, u.Status)
	assert.Equal(t, 50, *u.Progress)
	assert.Equal(t, "compiling", *u.Message)
	require.NotNil(t, u.CompletedAt)
	assert.Equal(t, int64(1700000000), u.CompletedAt.Unix())
	assert.Nil(t, u.Error)
}

func TestFromUnixSeconds(t *testing.T) {
	assert.Nil(t, FromUnixSeconds(nil))
	assert.Nil(t, FromUnixSeconds(floatPtr(0)))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	got := FromUnixSeconds(floatPtr(UnixSeconds(ts)))
	require.NotNil(t, got)
	assert.WithinDuration(t, ts, *got, time.Millisecond)
}

func TestJobStatus_Classification(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusProcessing.IsActive())
	assert.False(t, StatusCompleted.IsActive())

	for _, s := range []JobStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []JobStatus{StatusPending, StatusProcessing, ""} {
		assert.False(t, s.IsTerminal(), s)
	}
}
