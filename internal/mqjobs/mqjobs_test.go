package mqjobs

import (
	"encoding/json"
	"testing"
)

func TestDecodeJobRoundTrip(t *testing.T) {
	job := MemoryIndexJob{SessionID: "sess_1", BranchID: "branch_1", MessageID: "msg_1"}

	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := DecodeJob(body)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if got != job {
		t.Fatalf("got %+v, want %+v", got, job)
	}
}

func TestDecodeJobInvalidBody(t *testing.T) {
	if _, err := DecodeJob([]byte("not json")); err == nil {
		t.Fatalf("expected error for invalid body")
	}
}
