package models

// PhotoStats is the admin dashboard summary.
type PhotoStats struct {
	TotalPhotos    int64            `json:"totalPhotos"`
	TotalSize      int64            `json:"totalSize"`
	ByStatus       map[string]int64 `json:"byStatus"`
	ActiveSessions int64            `json:"activeSessions"`
	UploadsToday   int64            `json:"uploadsToday"`
	Incidents      []IncidentStats  `json:"incidents"`
	TopTeams       []TeamStats      `json:"topTeams"`
}

// IncidentStats is the per-incident breakdown.
type IncidentStats struct {
	IncidentID string `db:"incident_id" json:"incidentId"`
	PhotoCount int64  `db:"photo_count" json:"photoCount"`
	TotalSize  int64  `db:"total_size" json:"totalSize"`
}

// TeamStats counts photos per uploading team.
type TeamStats struct {
	TeamName   string `db:"team_name" json:"teamName"`
	PhotoCount int64  `db:"photo_count" json:"photoCount"`
}
