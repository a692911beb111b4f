// Package eav maps application/domain/entity/attribute paths onto rows and
// stores typed values per attribute.
package eav

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmsrsd/strn-app/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn against a handle bound to a single transaction.
// Returning an error from fn rolls every statement back.
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

// Application returns a handle; nothing is read or written until it is used.
func (d *Database) Application(key string) *Application {
	return &Application{db: d.db, key: key}
}

func (d *Database) Applications(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := d.db.WithContext(ctx).Model(&applicationRow{}).Order("id DESC").Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return keys, nil
}

// Drop removes the node addressed by target together with its descendants.
func (d *Database) Drop(ctx context.Context, target domain.DropTarget) error {
	if err := target.Validate(); err != nil {
		return err
	}
	app := d.Application(target.Application)
	switch target.Level {
	case domain.LevelApplication:
		return app.Drop(ctx)
	case domain.LevelDomain:
		return app.Domain(target.Domain).Drop(ctx)
	case domain.LevelEntity:
		return app.Domain(target.Domain).Entity(target.Entity).Drop(ctx)
	default:
		return app.Domain(target.Domain).Entity(target.Entity).Attribute(target.Attribute).Drop(ctx)
	}
}

// findOrCreate loads the row matching query into row, inserting it first
// when absent. A concurrent insert of the same natural key loses the race
// silently and the winner's row is read back.
func findOrCreate[R any](ctx context.Context, db *gorm.DB, row *R, conflict []string, query string, args ...any) error {
	tx := db.WithContext(ctx)
	err := tx.Where(query, args...).Take(row).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	columns := make([]clause.Column, 0, len(conflict))
	for _, name := range conflict {
		columns = append(columns, clause.Column{Name: name})
	}
	if err := tx.Clauses(clause.OnConflict{Columns: columns, DoNothing: true}).Create(row).Error; err != nil {
		return err
	}
	return tx.Where(query, args...).Take(row).Error
}

func lookup[R any](ctx context.Context, db *gorm.DB, row *R, query string, args ...any) (bool, error) {
	err := db.WithContext(ctx).Where(query, args...).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
