package store

// User mirrors the users table. Pointer fields are nullable.
type User struct {
	ID int64 `json:"id"`
	PeerPubkey string `json:"peer_pubkey"`
	ClientIP *string `json:"client_ip"`
	Nickname *string `json:"nickname"`
	Mail *string `json:"mail"`
	Phone *string `json:"phone"`
	Note *string `json:"note"`
	BandwidthLimit int64 `json:"bandwidth_limit"`
	DataLimit int64 `json:"data_limit"`
	ExpiryDate *string `json:"expiry_date"`
	Status int `json:"status"`
	Enabled int `json:"enabled"`
	TotalRx int64 `json:"total_rx"`
	TotalTx int64 `json:"total_tx"`
	LastLogin *string `json:"last_login"`
	LoginIP *string `json:"login_ip"`
	WgConfig *string `json:"wg_config"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event mirrors the events table.
type Event struct {
	ID int64 `json:"id"`
	UserID int64 `json:"user_id"`
	StartTime string `json:"start_time"`
	EndTime *string `json:"end_time"`
	LastUpdate string `json:"last_update"`
	SessionRx int64 `json:"session_rx"`
	SessionTx int64 `json:"session_tx"`
	LoginIP *string `json:"login_ip"`
	EndpointInfo *string `json:"endpoint_info"`
	Status string `json:"status"` // ONLINE | OFFLINE
	DurationSeconds int64 `json:"duration_seconds"`
}

const (
	EventStatusOnline = "ONLINE"
	EventStatusOffline = "OFFLINE"
)

// TrafficStat mirrors traffic_stats.
type TrafficStat struct {
	ID int64 `json:"id"`
	UserID int64 `json:"user_id"`
	Date string `json:"date"`
	DailyRx int64 `json:"daily_rx"`
	DailyTx int64 `json:"daily_tx"`
	SessionCount int64 `json:"session_count"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SystemStat mirrors system_stats.
type SystemStat struct {
	ID int64 `json:"id"`
	Date string `json:"date"`
	TotalUsers int64 `json:"total_users"`
	ActiveUsers int64 `json:"active_users"`
	TotalRx int64 `json:"total_rx"`
	TotalTx int64 `json:"total_tx"`
	PeakConcurrent int64 `json:"peak_concurrent"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
