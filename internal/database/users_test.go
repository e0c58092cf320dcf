package database

import (
	"context"
	"errors"
	"testing"

	"tchat-server/internal/models"
)

func TestCreateUserDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := models.User{TenantID: "tenant-1", Email: "agent@example.com", Name: "A", Role: models.RoleTenantUser}
	if err := CreateUser(ctx, db, &first); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	dup := models.User{TenantID: "tenant-2", Email: "agent@example.com", Name: "B", Role: models.RoleTenantUser}
	if err := CreateUser(ctx, db, &dup); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email err = %v, want ErrEmailTaken", err)
	}

	var count int64
	db.Model(&models.User{}).Where("email = ?", "agent@example.com").Count(&count)
	if count != 1 {
		t.Errorf("users with email = %d, want 1", count)
	}
}
