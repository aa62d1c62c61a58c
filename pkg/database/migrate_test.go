package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsOrderedAndComplete(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])

	var all strings.Builder
	for _, n := range names {
		b, err := migrationsFS.ReadFile("migrations/" + n)
		require.NoError(t, err)
		all.Write(b)
	}
	for _, table := range []string{
		"users", "classrooms", "classroom_teachers", "user_session_logs", "class_sessions",
		"polls", "poll_answers", "questions", "question_votes", "recordings", "spotlight_events",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
