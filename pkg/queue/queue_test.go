package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	p := RecordingUploadPayload{RecordingID: uuid.New(), ClassroomID: uuid.New(), LocalPath: "/tmp/r.mp4"}
	job, err := NewJob(JobTypeRecordingFile, p)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)

	var got RecordingUploadPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, p, got)
	assert.NotContains(t, string(job.Payload), "original_url")
}

func TestEnqueueNeedsSource(t *testing.T) {
	q := NewQueue(nil, nil)
	err := q.EnqueueRecordingUpload(context.Background(), RecordingUploadPayload{RecordingID: uuid.New()})
	assert.Error(t, err)
}
