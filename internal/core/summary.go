package core

import "time"

// CredentialUsage counts attempts made through a single credential.
type CredentialUsage struct {
	Credential  string `json:"credential"`
	Attempts    int    `json:"attempts"`
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
	RateLimited int    `json:"rate_limited"`
}

// Summary aggregates dispatch outcomes for one processing run.
type Summary struct {
	Attempted          int                        `json:"attempted"`
	Succeeded          int                        `json:"succeeded"`
	Failed             int                        `json:"failed"`
	Retries            int                        `json:"retries"`
	Reroutes           int                        `json:"reroutes"`
	InvalidCredentials int                        `json:"invalid_credentials"`
	Failures           map[FailureKind]int        `json:"failures,omitempty"`
	InputChars         int                        `json:"input_chars"`
	OutputChars        int                        `json:"output_chars"`
	MinRatio           float64                    `json:"min_ratio"`
	MaxRatio           float64                    `json:"max_ratio"`
	AvgRatio           float64                    `json:"avg_ratio"`
	PerCredential      map[string]CredentialUsage `json:"per_credential"`
	StartedAt          time.Time                  `json:"started_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// OverallRatio returns total output characters as a percentage of input.
func (s Summary) OverallRatio() float64 {
	return Ratio(s.InputChars, s.OutputChars)
}
