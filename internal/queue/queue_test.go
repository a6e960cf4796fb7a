package queue

import (
	"simjobs/internal/job"
	"strings"
	"testing"
)

func TestMessage_WireFormat(t *testing.T) {
	t.Parallel()

	p := job.DefaultParameters()
	p.TumorCount = 10
	body, err := Message{JobID: "job-1", Parameters: p}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	for _, want := range []string{`"jobId":"job-1"`, `"parameters":{`, `"tumorCount":10`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}

	m, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.JobID != "job-1" || m.Parameters.TumorCount != 10 || m.Parameters.Title != "Untitled" {
		t.Errorf("Decode() = %+v", m)
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":      `simulation 42`,
		"missing jobId": `{"parameters":{}}`,
		"wrong type":    `{"jobId":42}`,
	}
	for name, body := range tests {
		if _, err := Decode([]byte(body)); err == nil {
			t.Errorf("%s: Decode() succeeded", name)
		}
	}
}

func TestDecision_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    Decision
		want string
	}{
		{Ack(), "ack"},
		{Requeue(), "requeue"},
		{Drop(), "drop"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
