package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingKey(t *testing.T) {
	assert.Equal(t, "recordings/c1/r1.mp4", RecordingKey("c1", "r1"))
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/recordings/c1/r1.mp4",
		ObjectURL("b", "eu-west-1", RecordingKey("c1", "r1")))
}
