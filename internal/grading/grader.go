package grading

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"quiz-live-service/internal/domain"
)

// Config holds the reward multipliers.
type Config struct {
	BonusFraction   float64 // extra share of the reward for the first correct responder
	ExactMultiplier float64 // QRE reward multiplier for an exact estimate
}

// DefaultConfig returns the standard multipliers.
func DefaultConfig() Config {
	return Config{BonusFraction: 0.2, ExactMultiplier: 1.2}
}

// Submission is one player's final answer for the active question. Seq is the
// arrival order inside the question; lower arrived first.
type Submission struct {
	PlayerName string
	Answer     domain.Answer
	Seq        uint64
}

// Grader scores answers against a question. It never mutates player state.
type Grader struct {
	bonus decimal.Decimal
	exact decimal.Decimal
}

func New(cfg Config) *Grader {
	if cfg.ExactMultiplier <= 0 {
		cfg.ExactMultiplier = DefaultConfig().ExactMultiplier
	}
	if cfg.BonusFraction < 0 {
		cfg.BonusFraction = 0
	}
	return &Grader{
		bonus: decimal.NewFromInt(1).Add(decimal.NewFromFloat(cfg.BonusFraction)),
		exact: decimal.NewFromFloat(cfg.ExactMultiplier),
	}
}

// NormalizeChoices drops out-of-range and duplicate indices and sorts the rest.
func NormalizeChoices(q domain.Question, selected []int) []int {
	out := make([]int, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(q.Choices) || slices.Contains(out, idx) {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// CheckQCM is true iff the selection is exactly the set of correct choices.
func CheckQCM(q domain.Question, selected []int) bool {
	correct := q.CorrectChoices()
	if len(correct) == 0 {
		return false
	}
	return slices.Equal(NormalizeChoices(q, selected), correct)
}

// CheckQRE reports whether value lies within the tolerance window and whether
// it hits the expected value exactly.
func CheckQRE(q domain.Question, value float64) (correct, exact bool) {
	if q.Estimate == nil {
		return false, false
	}
	want := decimal.NewFromFloat(q.Estimate.CorrectValue)
	tol := decimal.NewFromFloat(q.Estimate.Tolerance).Abs()
	got := decimal.NewFromFloat(value)

	if got.Equal(want) {
		return true, true
	}
	low, high := want.Sub(tol), want.Add(tol)
	return got.Cmp(low) >= 0 && got.Cmp(high) <= 0, false
}

// GradeAutomatic scores QCM and QRE submissions. The first correct submission by
// arrival order earns the bonus unless it was an exact QRE match, which takes the
// exact multiplier instead. In practice mode every correct, non-exact answer earns it.
// The returned name is the bonus recipient, empty when nobody got it.
func (g *Grader) GradeAutomatic(q domain.Question, subs []Submission, practice bool) ([]domain.ScoreResult, string) {
	ordered := slices.Clone(subs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	results := make([]domain.ScoreResult, 0, len(ordered))
	bonusRecipient := ""
	firstSeen := false
	for _, sub := range ordered {
		res := domain.ScoreResult{PlayerName: sub.PlayerName}
		switch q.Type {
		case domain.QuestionQCM:
			res.Correct = CheckQCM(q, sub.Answer.Choices)
		case domain.QuestionQRE:
			res.Correct, res.ExactMatch = CheckQRE(q, sub.Answer.Value)
		}

		if res.Correct {
			first := !firstSeen
			firstSeen = true
			if !res.ExactMatch && (first || practice) {
				res.FirstCorrectBonus = true
				if bonusRecipient == "" {
					bonusRecipient = sub.PlayerName
				}
			}
		}
		res.Reward = g.reward(q.Points, res)
		results = append(results, res)
	}
	return results, bonusRecipient
}

// GradeManual scores organizer-graded QRL answers. Invalid grades count as zero.
func (g *Grader) GradeManual(q domain.Question, graded []domain.GradedAnswer) []domain.ScoreResult {
	results := make([]domain.ScoreResult, 0, len(graded))
	for _, ga := range graded {
		grade := ga.Grade
		if !grade.Valid() {
			grade = domain.GradeZero
		}
		res := domain.ScoreResult{
			PlayerName: ga.PlayerName,
			Correct:    grade > domain.GradeZero,
			Grade:      &grade,
		}
		res.Reward = g.reward(q.Points, res)
		results = append(results, res)
	}
	return results
}

func (g *Grader) reward(points int, res domain.ScoreResult) float64 {
	if !res.Correct || points <= 0 {
		return 0
	}
	r := decimal.NewFromInt(int64(points))
	switch {
	case res.Grade != nil:
		r = r.Mul(decimal.NewFromFloat(float64(*res.Grade)))
	case res.ExactMatch:
		r = r.Mul(g.exact)
	case res.FirstCorrectBonus:
		r = r.Mul(g.bonus)
	}
	return r.Round(2).InexactFloat64()
}
