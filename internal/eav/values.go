package eav

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type valueTable[T any] struct {
	table string
	zero  func() T
}

var (
	textTable     = valueTable[string]{table: tableTexts, zero: func() string { return "" }}
	numericTable  = valueTable[float64]{table: tableNumerics, zero: func() float64 { return 0 }}
	documentTable = valueTable[string]{table: tableDocuments, zero: func() string { return "" }}
	fileTable     = valueTable[[]byte]{table: tableFiles, zero: func() []byte { return []byte{} }}
)

// ValueStore holds at most one value of type T for an attribute.
type ValueStore[T any] struct {
	attr *Attribute
	def  valueTable[T]
}

func (a *Attribute) Text() *ValueStore[string] {
	return &ValueStore[string]{attr: a, def: textTable}
}

func (a *Attribute) Numeric() *ValueStore[float64] {
	return &ValueStore[float64]{attr: a, def: numericTable}
}

func (a *Attribute) Document() *ValueStore[string] {
	return &ValueStore[string]{attr: a, def: documentTable}
}

func (a *Attribute) File() *ValueStore[[]byte] {
	return &ValueStore[[]byte]{attr: a, def: fileTable}
}

// Get returns the stored value or the store default. It resolves the
// attribute path like ID does but never creates a value row.
func (s *ValueStore[T]) Get(ctx context.Context) (T, error) {
	id, err := s.attr.ID(ctx)
	if err != nil {
		return s.def.zero(), err
	}

	var row valueRow[T]
	err = s.attr.db().WithContext(ctx).Table(s.def.table).Where("attribute_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.def.zero(), nil
	}
	if err != nil {
		return s.def.zero(), fmt.Errorf("read %s: %w", s.def.table, err)
	}
	// an empty blob may scan back as nil
	if b, ok := any(row.Value).([]byte); ok && b == nil {
		return s.def.zero(), nil
	}
	return row.Value, nil
}

func (s *ValueStore[T]) Set(ctx context.Context, value T) error {
	id, err := s.attr.ID(ctx)
	if err != nil {
		return err
	}

	row := valueRow[T]{AttributeID: id, Value: value}
	err = s.attr.db().WithContext(ctx).Table(s.def.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attribute_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write %s: %w", s.def.table, err)
	}
	return nil
}

// Drop deletes the value rows of the attribute; a missing path is a no-op.
func (s *ValueStore[T]) Drop(ctx context.Context) error {
	id, ok, err := s.attr.Lookup(ctx)
	if err != nil || !ok {
		return err
	}
	return dropValues(s.attr.db().WithContext(ctx), s.def.table, id)
}
