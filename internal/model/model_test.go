package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatus_IsActive(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{JobStatusQueued, true},
		{JobStatusRunning, true},
		{JobStatusSuccess, false},
		{JobStatusFailed, false},
		{JobStatusCanceled, false},
	}

	for _, test := range tests {
		if got := test.status.IsActive(); got != test.expected {
			t.Errorf("IsActive() for %s = %v, expected %v", test.status, got, test.expected)
		}
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusSuccess, true},
		{JobStatusFailed, true},
		{JobStatusCanceled, true},
	}

	for _, test := range tests {
		if got := test.status.IsTerminal(); got != test.expected {
			t.Errorf("IsTerminal() for %s = %v, expected %v", test.status, got, test.expected)
		}
	}
}

func TestJob_Clone(t *testing.T) {
	job := &Job{
		ID:       "job-1",
		TargetID: "12345678",
		OwnerKey: "owner-a",
		Status:   JobStatusRunning,
		Progress: 42.5,
	}

	snap := job.Clone()
	job.Progress = 99.0
	job.Status = JobStatusSuccess

	if snap.Progress != 42.5 {
		t.Errorf("clone progress = %v, expected 42.5", snap.Progress)
	}
	if snap.Status != JobStatusRunning {
		t.Errorf("clone status = %s, expected %s", snap.Status, JobStatusRunning)
	}
}

func TestLogEvent_JSONOmitsZeroProgress(t *testing.T) {
	event := LogEvent{
		Seq:       1,
		Kind:      EventInfo,
		Message:   "starting",
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, present := decoded["progress"]; present {
		t.Error("expected zero progress to be omitted from JSON")
	}
}
