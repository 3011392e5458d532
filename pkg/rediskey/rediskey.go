package rediskey

import "fmt"

// Key namespaces shared across services.
const (
	SettingPrefix       = "setting"
	LeaderboardPrefix   = "leaderboard"
	CenterSummaryPrefix = "center_summary"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSettingKey returns "setting:{key}"
func BuildSettingKey(key string) string {
	return NamespaceKey(SettingPrefix, key)
}

// BuildLeaderboardKey returns "leaderboard:{timeframe}"
func BuildLeaderboardKey(timeframe string) string {
	return NamespaceKey(LeaderboardPrefix, timeframe)
}

// BuildCenterSummaryKey returns "center_summary:{centerID}:{timeframe}"
func BuildCenterSummaryKey(centerID, timeframe string) string {
	return NamespaceKey(CenterSummaryPrefix, fmt.Sprintf("%s:%s", centerID, timeframe))
}
