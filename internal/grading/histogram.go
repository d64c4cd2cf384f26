package grading

import "quiz-live-service/internal/domain"

// ChoiceHistogram counts, per choice, how many players currently have it selected.
type ChoiceHistogram struct {
	Counts []int `json:"counts"`
}

// TallyChoices builds the live QCM histogram from every pending selection.
func TallyChoices(q domain.Question, selections [][]int) ChoiceHistogram {
	counts := make([]int, len(q.Choices))
	for _, sel := range selections {
		for _, idx := range NormalizeChoices(q, sel) {
			counts[idx]++
		}
	}
	return ChoiceHistogram{Counts: counts}
}

// ActivityHistogram splits QRL players by whether they typed within the grace window.
type ActivityHistogram struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// TallyActivity counts idle players as inactive.
func TallyActivity(states []domain.Activity) ActivityHistogram {
	var h ActivityHistogram
	for _, s := range states {
		if s == domain.ActivityActive {
			h.Active++
		} else {
			h.Inactive++
		}
	}
	return h
}

// GradeHistogram is the QRL result tally broadcast after evaluation.
type GradeHistogram struct {
	Zero int `json:"zero"`
	Half int `json:"half"`
	Full int `json:"full"`
}

func TallyGrades(graded []domain.GradedAnswer) GradeHistogram {
	var h GradeHistogram
	for _, ga := range graded {
		switch ga.Grade {
		case domain.GradeFull:
			h.Full++
		case domain.GradeHalf:
			h.Half++
		default:
			h.Zero++
		}
	}
	return h
}

// SubmissionTally is the live QRE count: estimates have no choices to chart.
type SubmissionTally struct {
	Submitted int `json:"submitted"`
	Pending   int `json:"pending"`
}

func TallySubmissions(submitted []bool) SubmissionTally {
	var t SubmissionTally
	for _, done := range submitted {
		if done {
			t.Submitted++
		} else {
			t.Pending++
		}
	}
	return t
}
