package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderly/liveclass/internal/classrooms"
)

type fakeSource struct {
	agg Aggregates
	err error
}

func (f fakeSource) Aggregates(context.Context, uuid.UUID) (Aggregates, error) { return f.agg, f.err }

func TestSummarize(t *testing.T) {
	out := Summarize(Aggregates{Students: 3, AttendSeconds: 3000, PollParticipants: 2, Questions: 4, AnsweredQuestions: 1})
	assert.Equal(t, int64(1000), out.AvgAttendSeconds)
	assert.Equal(t, 66.7, out.PollParticipationPercent)
	assert.Equal(t, 4, out.QuestionsCount)

	empty := Summarize(Aggregates{PollParticipants: 1})
	assert.Zero(t, empty.AvgAttendSeconds)
	assert.Zero(t, empty.PollParticipationPercent)
}

func TestGetByClassroom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct {
		name   string
		source fakeSource
		code   int
	}{
		{"ok", fakeSource{agg: Aggregates{Students: 2, PeakAttendees: 5}}, http.StatusOK},
		{"store error", fakeSource{err: errors.New("db down")}, http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/classrooms/x/analytics", nil)
			c.Set(classrooms.ContextClassroomID, uuid.New())

			NewHandler(tc.source, nil).GetByClassroom(c)

			require.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				var body struct {
					Data SummaryResponse `json:"data"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, 5, body.Data.PeakAttendees)
			}
		})
	}
}
