package model

// ActivityType classifies an entry in the activity feed.
type ActivityType string

const (
	ActivityBan       ActivityType = "ban"
	ActivityAutoBan   ActivityType = "auto_ban"
	ActivityRevoke    ActivityType = "revoke"
	ActivityViolation ActivityType = "violation"
	ActivitySettings  ActivityType = "settings"
	ActivityPlayer    ActivityType = "player"
	ActivitySystem    ActivityType = "system"
)

// ActivityEvent is a derived, non-authoritative log line for the dashboard.
type ActivityEvent struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Details   string       `json:"details"`
	Timestamp int64        `json:"timestamp"`
}

// Statistics is the aggregate view served on the dashboard.
type Statistics struct {
	OnlinePlayers    int `json:"online_players"`
	ActiveBans       int `json:"active_bans"`
	RecentViolations int `json:"recent_violations"`
	TotalBans        int `json:"total_bans"`
	AutoBans         int `json:"auto_bans"`
	ManualBans       int `json:"manual_bans"`
	TotalViolations  int `json:"total_violations"`
}
