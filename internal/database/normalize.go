package database

import (
	"bytes"
	"context"

	"tchat-server/internal/automation"
	"tchat-server/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NormalizeReport counts what NormalizeTriggers did.
type NormalizeReport struct {
	Scanned   int
	Rewritten int
	Malformed int
}

// NormalizeTriggers rewrites stored trigger payloads into canonical form.
// Malformed triggers are logged and left untouched. With dryRun nothing is
// written.
func NormalizeTriggers(ctx context.Context, db *gorm.DB, dryRun bool, log *zap.Logger) (NormalizeReport, error) {
	var report NormalizeReport

	var triggers []models.Trigger
	if err := db.WithContext(ctx).Order("created_at ASC").Find(&triggers).Error; err != nil {
		return report, err
	}

	for _, t := range triggers {
		report.Scanned++
		cond, actions, err := automation.Normalize(automation.TriggerType(t.Type), t.Conditions, t.Actions)
		if err != nil {
			report.Malformed++
			log.Warn("Malformed trigger left as is",
				zap.String("trigger_id", t.ID),
				zap.String("chatbot_id", t.ChatbotID),
				zap.Error(err))
			continue
		}

		if bytes.Equal(cond, t.Conditions) && bytes.Equal(actions, t.Actions) {
			continue
		}
		report.Rewritten++
		log.Info("Normalizing trigger",
			zap.String("trigger_id", t.ID),
			zap.ByteString("actions", actions),
			zap.Bool("dry_run", dryRun))
		if dryRun {
			continue
		}

		err = db.WithContext(ctx).Model(&models.Trigger{}).
			Where("id = ?", t.ID).
			Updates(map[string]interface{}{
				"conditions": datatypes.JSON(cond),
				"actions":    datatypes.JSON(actions),
			}).Error
		if err != nil {
			return report, err
		}
	}

	return report, nil
}
