package domain

// Metric is a rolled-up count compared with an earlier period.
type Metric struct {
	Value  int    `json:"value"`
	Change int    `json:"change"`
	Period string `json:"period"`
}

type Stats struct {
	TotalImages    Metric `json:"totalImages"`
	CriticalIssues Metric `json:"criticalIssues"`
	HighRisk       Metric `json:"highRisk"`
	ScannedToday   Metric `json:"scannedToday"`
}

type ComplianceLevel string

const (
	Compliant    ComplianceLevel = "Compliant"
	AtRisk       ComplianceLevel = "At Risk"
	NonCompliant ComplianceLevel = "Non-Compliant"
)

type Compliance struct {
	Score           int             `json:"securityScore"`
	Level           ComplianceLevel `json:"complianceLevel"`
	TotalImages     int             `json:"totalImages"`
	CriticalImages  int             `json:"criticalImages"`
	HighImages      int             `json:"highImages"`
	Recommendations []string        `json:"recommendations,omitempty"`
}
