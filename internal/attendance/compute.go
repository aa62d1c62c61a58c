package attendance

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kinderly/liveclass/internal/models"
)

// Policy maps session time to an attendance status.
type Policy struct {
	LateAfter       time.Duration // grace period after class start
	MinPresentShare float64       // share of the class window a student must attend (0..1)
}

// Window is the span of a class used to judge attendance.
type Window struct {
	Start time.Time
	End   time.Time
}

type interval struct {
	from, to time.Time
}

// Compute returns one record per student found in logs, sorted by first join.
// Open logs count until now. Time outside the window is ignored and overlapping logs are counted once.
func Compute(w Window, logs []LogRow, p Policy, now time.Time) []models.AttendanceRecord {
	type acc struct {
		rec       models.AttendanceRecord
		intervals []interval
	}
	byUser := make(map[uuid.UUID]*acc)
	var order []uuid.UUID
	for _, l := range logs {
		if l.Role != models.RoleStudent {
			continue
		}
		a, ok := byUser[l.UserID]
		if !ok {
			a = &acc{rec: models.AttendanceRecord{UserID: l.UserID, FullName: l.FullName}}
			byUser[l.UserID] = a
			order = append(order, l.UserID)
		}
		a.rec.Joins++
		if a.rec.FirstJoinedAt == nil || l.JoinedAt.Before(*a.rec.FirstJoinedAt) {
			joined := l.JoinedAt
			a.rec.FirstJoinedAt = &joined
		}
		to := now
		if l.LeftAt != nil {
			to = *l.LeftAt
		}
		a.intervals = append(a.intervals, interval{from: l.JoinedAt, to: to})
	}

	classLen := w.End.Sub(w.Start)
	out := make([]models.AttendanceRecord, 0, len(order))
	for _, id := range order {
		a := byUser[id]
		attended := clippedUnion(a.intervals, w)
		a.rec.AttendSeconds = int64(attended / time.Second)
		a.rec.Status = status(w, classLen, attended, *a.rec.FirstJoinedAt, p)
		out = append(out, a.rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstJoinedAt.Before(*out[j].FirstJoinedAt) })
	return out
}

func status(w Window, classLen, attended time.Duration, firstJoin time.Time, p Policy) models.AttendanceStatus {
	if classLen > 0 && float64(attended) < p.MinPresentShare*float64(classLen) {
		return models.AttendanceAbsent
	}
	if firstJoin.After(w.Start.Add(p.LateAfter)) {
		return models.AttendanceLate
	}
	return models.AttendancePresent
}

// clippedUnion is the total length of the union of intervals within w.
func clippedUnion(in []interval, w Window) time.Duration {
	clipped := make([]interval, 0, len(in))
	for _, iv := range in {
		if iv.from.Before(w.Start) {
			iv.from = w.Start
		}
		if iv.to.After(w.End) {
			iv.to = w.End
		}
		if iv.to.After(iv.from) {
			clipped = append(clipped, iv)
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].from.Before(clipped[j].from) })
	var total time.Duration
	var cur *interval
	for i := range clipped {
		iv := clipped[i]
		if cur != nil && !iv.from.After(cur.to) {
			if iv.to.After(cur.to) {
				cur.to = iv.to
			}
			continue
		}
		if cur != nil {
			total += cur.to.Sub(cur.from)
		}
		cur = &iv
	}
	if cur != nil {
		total += cur.to.Sub(cur.from)
	}
	return total
}
