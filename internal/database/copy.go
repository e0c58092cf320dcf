package database

import (
	"fmt"
	"reflect"

	"tchat-server/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const copyBatchSize = 500

// CopyAll copies every model table from src to dst, parents first. Each
// table is written in its own transaction; rows keep their IDs.
func CopyAll(src, dst *gorm.DB, log *zap.Logger) error {
	for _, model := range models.All() {
		if err := copyTable(src, dst, model, log); err != nil {
			return err
		}
	}
	return nil
}

func copyTable(src, dst *gorm.DB, model interface{}, log *zap.Logger) error {
	stmt := &gorm.Statement{DB: src}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("parse %T: %w", model, err)
	}
	table := stmt.Schema.Table

	rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
	if err := src.Model(model).Find(rows.Interface()).Error; err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}

	n := rows.Elem().Len()
	log.Info("Migrating table", zap.String("table", table), zap.Int("rows", n))
	if n == 0 {
		return nil
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).CreateInBatches(rows.Interface(), copyBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}
