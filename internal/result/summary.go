package result

// Summarize folds per-test results into report totals. maxScore is the sum
// of the rubric's declared weights, not of achieved scores.
func Summarize(results []TestResult, maxScore float64) Summary {
	s := Summary{MaxScore: maxScore}
	for _, r := range results {
		s.TotalTests += r.NTests
		s.PassedTests += r.NPassed
		s.TotalScore += r.Score
		s.TotalExecutionTime += r.ExecutionTime
	}
	s.FailedTests = s.TotalTests - s.PassedTests
	if s.TotalTests > 0 {
		s.SuccessRate = float64(s.PassedTests) / float64(s.TotalTests)
	}
	return s
}

// Succeeded reports whether the evaluation counts as a pass: the image
// built, nothing cut the run short and every sub-check passed.
func (r *EvaluationReport) Succeeded() bool {
	return r.BuildLog.BuildSuccess && len(r.Errors) == 0 && r.Summary.FailedTests == 0
}
