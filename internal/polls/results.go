package polls

import (
	"math"

	"github.com/kinderly/liveclass/internal/models"
)

// Options are the answer letters of every poll.
var Options = []string{"A", "B", "C", "D"}

// Tally builds results from per-option answer counts. Percentages are rounded to one decimal.
func Tally(p *models.Poll, counts map[string]int) models.PollResults {
	labels := map[string]string{"A": p.OptionA, "B": p.OptionB, "C": p.OptionC, "D": p.OptionD}
	res := models.PollResults{PollID: p.ID, Options: make([]models.PollOptionResult, 0, len(Options))}
	for _, o := range Options {
		res.TotalAnswers += counts[o]
	}
	for _, o := range Options {
		r := models.PollOptionResult{Option: o, Label: labels[o], Count: counts[o]}
		if res.TotalAnswers > 0 {
			r.Percent = math.Round(float64(counts[o])*1000/float64(res.TotalAnswers)) / 10
		}
		if p.IsQuiz() && *p.CorrectOption == o {
			r.Correct = true
			n := counts[o]
			res.CorrectCount = &n
		}
		res.Options = append(res.Options, r)
	}
	return res
}

// launchPayload is what students see when a poll opens; the correct answer stays hidden.
func launchPayload(p *models.Poll) map[string]interface{} {
	return map[string]interface{}{
		"id": p.ID, "question": p.Question, "quiz": p.IsQuiz(),
		"option_a": p.OptionA, "option_b": p.OptionB, "option_c": p.OptionC, "option_d": p.OptionD,
	}
}
