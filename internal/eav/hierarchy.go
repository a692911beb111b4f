package eav

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ID methods resolve a path by find-or-create and so materialize every
// ancestor. Lookup methods and child listings only read.

type Application struct {
	db  *gorm.DB
	key string
}

func (a *Application) Key() string { return a.key }

func (a *Application) Domain(key string) *Domain {
	return &Domain{app: a, key: key}
}

func (a *Application) ID(ctx context.Context) (uint, error) {
	row := applicationRow{Key: a.key}
	if err := findOrCreate(ctx, a.db, &row, []string{"key"}, "key = ?", a.key); err != nil {
		return 0, fmt.Errorf("resolve application %q: %w", a.key, err)
	}
	return row.ID, nil
}

func (a *Application) Lookup(ctx context.Context) (uint, bool, error) {
	var row applicationRow
	ok, err := lookup(ctx, a.db, &row, "key = ?", a.key)
	if err != nil {
		return 0, false, fmt.Errorf("lookup application %q: %w", a.key, err)
	}
	return row.ID, ok, nil
}

func (a *Application) Domains(ctx context.Context) ([]string, error) {
	id, ok, err := a.Lookup(ctx)
	if err != nil || !ok {
		return []string{}, err
	}
	return childKeys(ctx, a.db, &domainRow{}, "application_id = ?", id)
}

func (a *Application) Drop(ctx context.Context) error {
	id, ok, err := a.Lookup(ctx)
	if err != nil || !ok {
		return err
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return dropApplication(tx, id)
	})
}

type Domain struct {
	app *Application
	key string
}

func (d *Domain) Key() string              { return d.key }
func (d *Domain) Application() *Application { return d.app }

func (d *Domain) Entity(id string) *Entity {
	return &Entity{domain: d, key: id}
}

func (d *Domain) db() *gorm.DB { return d.app.db }

func (d *Domain) ID(ctx context.Context) (uint, error) {
	appID, err := d.app.ID(ctx)
	if err != nil {
		return 0, err
	}
	row := domainRow{ApplicationID: appID, Key: d.key}
	if err := findOrCreate(ctx, d.db(), &row, []string{"application_id", "key"}, "application_id = ? AND key = ?", appID, d.key); err != nil {
		return 0, fmt.Errorf("resolve domain %q: %w", d.key, err)
	}
	return row.ID, nil
}

func (d *Domain) Lookup(ctx context.Context) (uint, bool, error) {
	appID, ok, err := d.app.Lookup(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	var row domainRow
	ok, err = lookup(ctx, d.db(), &row, "application_id = ? AND key = ?", appID, d.key)
	if err != nil {
		return 0, false, fmt.Errorf("lookup domain %q: %w", d.key, err)
	}
	return row.ID, ok, nil
}

// Entities lists every entity id of the domain, newest first.
func (d *Domain) Entities(ctx context.Context) ([]string, error) {
	id, ok, err := d.Lookup(ctx)
	if err != nil || !ok {
		return []string{}, err
	}
	return childKeys(ctx, d.db(), &entityRow{}, "domain_id = ?", id)
}

// CreateEntity materializes an entity and returns its id. An empty id is
// replaced by a fresh UUIDv7 so generated ids sort by creation time.
func (d *Domain) CreateEntity(ctx context.Context, id string) (string, error) {
	if id == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate entity id: %w", err)
		}
		id = generated.String()
	}
	if _, err := d.Entity(id).ID(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Domain) Drop(ctx context.Context) error {
	id, ok, err := d.Lookup(ctx)
	if err != nil || !ok {
		return err
	}
	return d.db().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return dropDomain(tx, id)
	})
}

type Entity struct {
	domain *Domain
	key    string
}

func (e *Entity) Key() string     { return e.key }
func (e *Entity) Domain() *Domain { return e.domain }

func (e *Entity) Attribute(key string) *Attribute {
	return &Attribute{entity: e, key: key}
}

func (e *Entity) db() *gorm.DB { return e.domain.db() }

func (e *Entity) ID(ctx context.Context) (uint, error) {
	domainID, err := e.domain.ID(ctx)
	if err != nil {
		return 0, err
	}
	row := entityRow{DomainID: domainID, Key: e.key}
	if err := findOrCreate(ctx, e.db(), &row, []string{"domain_id", "key"}, "domain_id = ? AND key = ?", domainID, e.key); err != nil {
		return 0, fmt.Errorf("resolve entity %q: %w", e.key, err)
	}
	return row.ID, nil
}

func (e *Entity) Lookup(ctx context.Context) (uint, bool, error) {
	domainID, ok, err := e.domain.Lookup(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	var row entityRow
	ok, err = lookup(ctx, e.db(), &row, "domain_id = ? AND key = ?", domainID, e.key)
	if err != nil {
		return 0, false, fmt.Errorf("lookup entity %q: %w", e.key, err)
	}
	return row.ID, ok, nil
}

func (e *Entity) Attributes(ctx context.Context) ([]string, error) {
	id, ok, err := e.Lookup(ctx)
	if err != nil || !ok {
		return []string{}, err
	}
	return childKeys(ctx, e.db(), &attributeRow{}, "entity_id = ?", id)
}

func (e *Entity) Drop(ctx context.Context) error {
	id, ok, err := e.Lookup(ctx)
	if err != nil || !ok {
		return err
	}
	return e.db().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return dropEntity(tx, id)
	})
}

type Attribute struct {
	entity *Entity
	key    string
}

func (a *Attribute) Key() string     { return a.key }
func (a *Attribute) Entity() *Entity { return a.entity }

func (a *Attribute) db() *gorm.DB { return a.entity.db() }

func (a *Attribute) ID(ctx context.Context) (uint, error) {
	entityID, err := a.entity.ID(ctx)
	if err != nil {
		return 0, err
	}
	row := attributeRow{EntityID: entityID, Key: a.key}
	if err := findOrCreate(ctx, a.db(), &row, []string{"entity_id", "key"}, "entity_id = ? AND key = ?", entityID, a.key); err != nil {
		return 0, fmt.Errorf("resolve attribute %q: %w", a.key, err)
	}
	return row.ID, nil
}

func (a *Attribute) Lookup(ctx context.Context) (uint, bool, error) {
	entityID, ok, err := a.entity.Lookup(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	var row attributeRow
	ok, err = lookup(ctx, a.db(), &row, "entity_id = ? AND key = ?", entityID, a.key)
	if err != nil {
		return 0, false, fmt.Errorf("lookup attribute %q: %w", a.key, err)
	}
	return row.ID, ok, nil
}

// Drop clears all four value stores before removing the attribute itself.
func (a *Attribute) Drop(ctx context.Context) error {
	id, ok, err := a.Lookup(ctx)
	if err != nil || !ok {
		return err
	}
	return a.db().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return dropAttribute(tx, id)
	})
}

func childKeys(ctx context.Context, db *gorm.DB, model any, query string, parentID uint) ([]string, error) {
	keys := make([]string, 0)
	if err := db.WithContext(ctx).Model(model).Where(query, parentID).Order("id DESC").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func childIDs(tx *gorm.DB, model any, query string, parentID uint) ([]uint, error) {
	ids := make([]uint, 0)
	if err := tx.Model(model).Where(query, parentID).Order("id DESC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// The drop helpers walk depth-first and delete children before their parent.

func dropApplication(tx *gorm.DB, id uint) error {
	children, err := childIDs(tx, &domainRow{}, "application_id = ?", id)
	if err != nil {
		return fmt.Errorf("list domains: %w", err)
	}
	for _, child := range children {
		if err := dropDomain(tx, child); err != nil {
			return err
		}
	}
	if err := tx.Delete(&applicationRow{}, id).Error; err != nil {
		return fmt.Errorf("delete application %d: %w", id, err)
	}
	return nil
}

func dropDomain(tx *gorm.DB, id uint) error {
	children, err := childIDs(tx, &entityRow{}, "domain_id = ?", id)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, child := range children {
		if err := dropEntity(tx, child); err != nil {
			return err
		}
	}
	if err := tx.Delete(&domainRow{}, id).Error; err != nil {
		return fmt.Errorf("delete domain %d: %w", id, err)
	}
	return nil
}

func dropEntity(tx *gorm.DB, id uint) error {
	children, err := childIDs(tx, &attributeRow{}, "entity_id = ?", id)
	if err != nil {
		return fmt.Errorf("list attributes: %w", err)
	}
	for _, child := range children {
		if err := dropAttribute(tx, child); err != nil {
			return err
		}
	}
	if err := tx.Delete(&entityRow{}, id).Error; err != nil {
		return fmt.Errorf("delete entity %d: %w", id, err)
	}
	return nil
}

func dropAttribute(tx *gorm.DB, id uint) error {
	for _, table := range valueTables {
		if err := dropValues(tx, table, id); err != nil {
			return err
		}
	}
	if err := tx.Delete(&attributeRow{}, id).Error; err != nil {
		return fmt.Errorf("delete attribute %d: %w", id, err)
	}
	return nil
}

func dropValues(tx *gorm.DB, table string, attributeID uint) error {
	if err := tx.Exec("DELETE FROM "+table+" WHERE attribute_id = ?", attributeID).Error; err != nil {
		return fmt.Errorf("delete %s values: %w", table, err)
	}
	return nil
}
