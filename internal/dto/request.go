package dto

// PipelineStatsRequest selects the team and lookback window for
// GET /pipeline/stats.
type PipelineStatsRequest struct {
	TeamID        int64 `form:"team_id" binding:"required" example:"42"`
	SinceUnixSecs int64 `form:"since_unix_secs" binding:"required" example:"1723475612"`
}

// DLQRedriveRequest caps how many dead-lettered messages POST
// /dlq/redrive pulls in one call.
type DLQRedriveRequest struct {
	MaxMessages int32 `form:"max_messages" example:"10"`
}
