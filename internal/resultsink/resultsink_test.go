package resultsink_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duttest/dispatcher/internal/resultsink"
)

func TestJobSummaryDowngradesOnFailure(t *testing.T) {
	s := resultsink.NewJobSummary()
	assert.Equal(t, "pass", s.JobStatus)

	s.AddResult("case-1", "pass", "")
	assert.Equal(t, "pass", s.JobStatus)

	s.AddResult("case-2", "fail", "pattern not matched")
	assert.Equal(t, "fail", s.JobStatus)

	s.AddResult("case-3", "pass", "")
	assert.Equal(t, "fail", s.JobStatus, "one failure must downgrade status for the rest of the job")
}

func TestFinalizeAppendsJobComplete(t *testing.T) {
	s := resultsink.NewJobSummary()
	s.AddResult("case-1", "pass", "")

	final := s.Finalize()
	assert.Len(t, final, 2)
	assert.Equal(t, "job_complete", final[1].ID)
	assert.Equal(t, "pass", final[1].Result)
}

func TestNewJobSummaryHasUniqueRunIDs(t *testing.T) {
	a := resultsink.NewJobSummary()
	b := resultsink.NewJobSummary()
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRecordKeepsTimeoutFieldsDistinct(t *testing.T) {
	rec := resultsink.Record{
		Definition:        "lava-dispatcher",
		Case:              "boot",
		Level:             "1",
		Duration:          2 * time.Second,
		Result:            "pass",
		Timeout:           30 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
	assert.Equal(t, 30*time.Second, rec.Timeout)
	assert.Equal(t, 10*time.Second, rec.ConnectionTimeout)
	assert.NotEqual(t, rec.Timeout, rec.ConnectionTimeout, "timeout and connection-timeout must stay distinct fields, never conflated under one key")
}
