package database

import (
	"context"

	"gorm.io/gorm"
)

// Create ensures the type T is saved to the database.
func Create[T any](ctx context.Context, db *gorm.DB, entity *T) error {
	return gorm.G[T](db).Create(ctx, entity)
}

// FindByID finds a record of type T by its ID.
func FindByID[T any](ctx context.Context, db *gorm.DB, id uint) (T, error) {
	return gorm.G[T](db).Where("id = ?", id).First(ctx)
}

// Latest returns up to limit records of type T, newest first.
func Latest[T any](ctx context.Context, db *gorm.DB, limit int) ([]T, error) {
	return gorm.G[T](db).Order("id desc").Limit(limit).Find(ctx)
}
