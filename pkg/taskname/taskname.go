package taskname

const (
	// Reporting tasks
	LeaderboardRefresh = "reporting:leaderboard:refresh"
	CenterSummaryWarm  = "reporting:center_summary:warm"
)
