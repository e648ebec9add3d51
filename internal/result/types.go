package result

type TestResult struct {
	TestID        string  `json:"test_id"`
	TestType      string  `json:"test_type"`
	NPassed       int     `json:"n_passed"`
	NTests        int     `json:"n_tests"`
	Score         float64 `json:"score"`
	Message       string  `json:"message"`
	ExecutionTime float64 `json:"execution_time"`
	Category      string  `json:"category,omitempty"`
}

// Passed reports whether the result satisfies dependents that require it.
func (r *TestResult) Passed() bool {
	return r.NPassed != 0
}

type BuildLog struct {
	Command        string  `json:"command"`
	DockerfilePath string  `json:"dockerfile_path"`
	BuildContext   string  `json:"build_context"`
	Scenario       string  `json:"scenario"`
	BuildSuccess   bool    `json:"build_success"`
	Stdout         string  `json:"stdout"`
	Stderr         string  `json:"stderr"`
	ReturnCode     int     `json:"returncode"`
	BuildTimeout   bool    `json:"build_timeout"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	DurationS      float64 `json:"duration_s"`
}

type Run struct {
	ContainerName string `json:"container_name"`
	ImageName     string `json:"image_name"`
	Label         string `json:"label"`
}

type Summary struct {
	TotalTests         int     `json:"total_tests"`
	PassedTests        int     `json:"passed_tests"`
	FailedTests        int     `json:"failed_tests"`
	TotalScore         float64 `json:"total_score"`
	MaxScore           float64 `json:"max_score"`
	SuccessRate        float64 `json:"success_rate"`
	TotalExecutionTime float64 `json:"total_execution_time"`
}

type EvaluationReport struct {
	Repo        string       `json:"repo"`
	Dockerfile  string       `json:"dockerfile"`
	Rubric      string       `json:"rubric"`
	Run         Run          `json:"run"`
	BuildLog    BuildLog     `json:"build_log"`
	Summary     Summary      `json:"summary"`
	TestResults []TestResult `json:"test_results"`
	Errors      []string     `json:"errors,omitempty"`
}
