package database

import (
	"context"
	"errors"

	"tchat-server/internal/models"

	"gorm.io/gorm"
)

// CreateUser inserts user. A clash on the unique email index is reported
// as ErrEmailTaken, so callers that lose an invite race still get it.
func CreateUser(ctx context.Context, db *gorm.DB, user *models.User) error {
	err := db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}
