package entitlement

import "github.com/dukerupert/earmark/internal/model"

// Catalog maps each plan to its fixed limits.
type Catalog map[model.Plan]model.Limits

// DefaultCatalog is the production plan table.
var DefaultCatalog = Catalog{
	model.PlanFree: {
		MaxRecordingDuration: 600,
		DailyRecordings:      3,
		MaxDocuments:         1,
		AIChatProjects:       1,
		ExportFormats:        []string{"txt"},
	},
	model.PlanPro: {
		MaxRecordingDuration: 3600,
		DailyRecordings:      model.Unlimited,
		MaxDocuments:         50,
		AIChatProjects:       model.Unlimited,
		ExportFormats:        []string{"txt", "md", "pdf"},
	},
	model.PlanPremium: {
		MaxRecordingDuration: model.Unlimited,
		DailyRecordings:      model.Unlimited,
		MaxDocuments:         model.Unlimited,
		AIChatProjects:       model.Unlimited,
		ExportFormats:        []string{"txt", "md", "pdf", "json"},
	},
}

// Limits returns a copy of the limits for plan.
func (c Catalog) Limits(plan model.Plan) (model.Limits, bool) {
	l, ok := c[plan]
	if !ok {
		return model.Limits{}, false
	}
	return l.Clone(), true
}
