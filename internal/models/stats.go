package models

// WorkshopStats is aggregated by the server and only rendered here.
type WorkshopStats struct {
	WorkshopID        uint          `json:"workshop_id"`
	Title             string        `json:"title,omitempty"`
	AverageCompletion float64       `json:"average_completion"` // percent
	AverageTimeSpent  float64       `json:"average_time_spent"` // seconds
	AverageRating     float64       `json:"average_rating"`
	Enrolled          int           `json:"enrolled"`
	Modules           []ModuleStats `json:"modules"`
}

type ModuleStats struct {
	ModuleID          uint    `json:"module_id"`
	Title             string  `json:"title"`
	AverageCompletion float64 `json:"average_completion"`
	AverageTimeSpent  float64 `json:"average_time_spent"`
}

// AnalyticsDashboard mirrors the analytics service dashboard.
type AnalyticsDashboard struct {
	WorkshopID uint                `json:"workshop_id"`
	Completion []StudentCompletion `json:"completion"`
	QuizScores []StudentQuizScore  `json:"quiz_scores"`
	AtRisk     []AtRiskStudent     `json:"at_risk,omitempty"`
}

type StudentCompletion struct {
	UserID          string  `json:"user_id"`
	PercentComplete float64 `json:"percent_complete"`
}

type StudentQuizScore struct {
	UserID       string  `json:"user_id"`
	AverageScore float64 `json:"average_score"`
	PassFail     bool    `json:"pass_fail"`
}

type AtRiskStudent struct {
	UserID    string  `json:"user_id"`
	RiskScore float64 `json:"risk_score"`
	Reason    string  `json:"reason,omitempty"`
}
