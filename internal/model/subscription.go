package model

import "time"

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanPremium:
		return true
	}
	return false
}

// Limits are fixed per plan. Integer limits use Unlimited (-1) for no ceiling.
type Limits struct {
	MaxRecordingDuration int      `json:"max_recording_duration"`
	DailyRecordings      int      `json:"daily_recordings"`
	MaxDocuments         int      `json:"max_documents"`
	AIChatProjects       int      `json:"ai_chat_projects"`
	ExportFormats        []string `json:"export_formats"`
}

// AllowsExport reports whether format is one of the plan's export formats.
func (l Limits) AllowsExport(format string) bool {
	for _, f := range l.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (l Limits) Clone() Limits {
	c := l
	c.ExportFormats = append([]string(nil), l.ExportFormats...)
	return c
}

// UsageRecord is one calendar day of recording usage.
type UsageRecord struct {
	Date              string `json:"date"`
	RecordingsCount   int    `json:"recordings_count"`
	RecordingDuration int    `json:"recording_duration"`
}

// ChatProject is an item a bounded plan has locked in for AI chat.
type ChatProject struct {
	ItemID   string   `json:"item_id"`
	ItemType ItemType `json:"item_type"`
}

type SubscriptionState struct {
	Plan              Plan          `json:"plan"`
	IsActive          bool          `json:"is_active"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	Limits            Limits        `json:"limits"`
	DailyUsage        []UsageRecord `json:"daily_usage"`
	TotalDocuments    int           `json:"total_documents"`
	ChatProjects      []ChatProject `json:"chat_projects,omitempty"`
	LastUpgradePrompt *time.Time    `json:"last_upgrade_prompt,omitempty"`
}

// ChatProjectID returns the first locked chat project, or "" when none is set.
func (s SubscriptionState) ChatProjectID() string {
	if len(s.ChatProjects) == 0 {
		return ""
	}
	return s.ChatProjects[0].ItemID
}

// DateKey formats t as the YYYY-MM-DD key used by usage records.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
