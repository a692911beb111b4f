package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/jmsrsd/strn-app/internal/eav"
)

const (
	DefaultTake = 100
	MaxTake     = 1000
)

// StoreService serves one application of the EAV store. Every call runs in
// its own transaction so path resolution and cascades are all-or-nothing.
type StoreService struct {
	db          *eav.Database
	schema      domain.Schema
	application string
}

func NewStoreService(db *eav.Database, schema domain.Schema, application string) *StoreService {
	return &StoreService{db: db, schema: schema, application: defaultString(application, "strn")}
}

func (s *StoreService) Application() string   { return s.application }
func (s *StoreService) Models() []domain.Model { return s.schema.Models }

func (s *StoreService) tx(ctx context.Context, fn func(app *eav.Application) error) error {
	return s.db.Transaction(ctx, func(tx *eav.Database) error {
		return fn(tx.Application(s.application))
	})
}

func attribute(app *eav.Application, ref domain.ValueRef) *eav.Attribute {
	return app.Domain(ref.Domain).Entity(ref.ID).Attribute(ref.Key)
}

func getValue[T any](ctx context.Context, s *StoreService, ref domain.ValueRef, store func(*eav.Attribute) *eav.ValueStore[T]) (T, error) {
	var out T
	if err := ref.Validate(); err != nil {
		return out, err
	}
	err := s.tx(ctx, func(app *eav.Application) error {
		v, err := store(attribute(app, ref)).Get(ctx)
		out = v
		return err
	})
	return out, err
}

func setValue[T any](ctx context.Context, s *StoreService, ref domain.ValueRef, value T, store func(*eav.Attribute) *eav.ValueStore[T]) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.tx(ctx, func(app *eav.Application) error {
		return store(attribute(app, ref)).Set(ctx, value)
	})
}

func dropValue[T any](ctx context.Context, s *StoreService, ref domain.ValueRef, store func(*eav.Attribute) *eav.ValueStore[T]) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.tx(ctx, func(app *eav.Application) error {
		return store(attribute(app, ref)).Drop(ctx)
	})
}

func (s *StoreService) GetText(ctx context.Context, ref domain.ValueRef) (string, error) {
	return getValue(ctx, s, ref, (*eav.Attribute).Text)
}

func (s *StoreService) SetText(ctx context.Context, ref domain.ValueRef, value string) error {
	return setValue(ctx, s, ref, value, (*eav.Attribute).Text)
}

func (s *StoreService) GetNumeric(ctx context.Context, ref domain.ValueRef) (float64, error) {
	return getValue(ctx, s, ref, (*eav.Attribute).Numeric)
}

func (s *StoreService) SetNumeric(ctx context.Context, ref domain.ValueRef, value float64) error {
	return setValue(ctx, s, ref, value, (*eav.Attribute).Numeric)
}

func (s *StoreService) GetDocument(ctx context.Context, ref domain.ValueRef) (string, error) {
	return getValue(ctx, s, ref, (*eav.Attribute).Document)
}

func (s *StoreService) SetDocument(ctx context.Context, ref domain.ValueRef, value string) error {
	return setValue(ctx, s, ref, value, (*eav.Attribute).Document)
}

func (s *StoreService) GetFile(ctx context.Context, ref domain.ValueRef) ([]byte, error) {
	return getValue(ctx, s, ref, (*eav.Attribute).File)
}

func (s *StoreService) SetFile(ctx context.Context, ref domain.ValueRef, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return setValue(ctx, s, ref, value, (*eav.Attribute).File)
}

// DropValue clears one typed store of an attribute.
func (s *StoreService) DropValue(ctx context.Context, kind domain.ValueKind, ref domain.ValueRef) error {
	switch kind {
	case domain.KindText:
		return dropValue(ctx, s, ref, (*eav.Attribute).Text)
	case domain.KindNumeric:
		return dropValue(ctx, s, ref, (*eav.Attribute).Numeric)
	case domain.KindDocument:
		return dropValue(ctx, s, ref, (*eav.Attribute).Document)
	case domain.KindFile:
		return dropValue(ctx, s, ref, (*eav.Attribute).File)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}

// Value reads an attribute through the store of kind. File values come
// back as domain.ByteArray so they serialize as byte arrays.
func (s *StoreService) Value(ctx context.Context, kind domain.ValueKind, ref domain.ValueRef) (any, error) {
	switch kind {
	case domain.KindText:
		return s.GetText(ctx, ref)
	case domain.KindNumeric:
		return s.GetNumeric(ctx, ref)
	case domain.KindDocument:
		return s.GetDocument(ctx, ref)
	case domain.KindFile:
		b, err := s.GetFile(ctx, ref)
		return domain.ByteArray(b), err
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}

// Find resolves the store for key from the domain model.
func (s *StoreService) Find(ctx context.Context, domainKey, key string, pred domain.Predicate) ([]string, error) {
	kind, ok := s.schema.Kind(domainKey, key)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", domain.ErrUnknownAttribute, domainKey, key)
	}
	return s.FindIn(ctx, kind, domainKey, key, pred)
}

// FindIn searches an explicit store, whether or not the model declares key.
func (s *StoreService) FindIn(ctx context.Context, kind domain.ValueKind, domainKey, key string, pred domain.Predicate) ([]string, error) {
	if strings.TrimSpace(domainKey) == "" || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: domain and key are required", domain.ErrInvalidInput)
	}
	var ids []string
	err := s.tx(ctx, func(app *eav.Application) error {
		found, err := app.Domain(domainKey).Find(ctx, kind, key, pred)
		ids = found
		return err
	})
	return ids, err
}

// Browse clamps take to (0, MaxTake], defaulting to DefaultTake.
func (s *StoreService) Browse(ctx context.Context, domainKey string, query domain.BrowseQuery) (domain.Page, error) {
	if strings.TrimSpace(domainKey) == "" {
		return domain.Page{}, fmt.Errorf("%w: domain is required", domain.ErrInvalidInput)
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	if query.Take <= 0 {
		query.Take = DefaultTake
	}
	if query.Take > MaxTake {
		query.Take = MaxTake
	}
	switch query.Order {
	case "":
		query.Order = domain.OrderAsc
	case domain.OrderAsc, domain.OrderDesc:
	default:
		return domain.Page{}, fmt.Errorf("%w: order must be asc or desc", domain.ErrInvalidInput)
	}

	var page domain.Page
	err := s.tx(ctx, func(app *eav.Application) error {
		p, err := app.Domain(domainKey).Browse(ctx, query)
		page = p
		return err
	})
	return page, err
}

func (s *StoreService) Count(ctx context.Context, domainKey string) (int64, error) {
	var total int64
	err := s.tx(ctx, func(app *eav.Application) error {
		n, err := app.Domain(domainKey).Count(ctx)
		total = n
		return err
	})
	return total, err
}

func (s *StoreService) CreateEntity(ctx context.Context, domainKey, id string) (string, error) {
	if strings.TrimSpace(domainKey) == "" {
		return "", fmt.Errorf("%w: domain is required", domain.ErrInvalidInput)
	}
	var created string
	err := s.tx(ctx, func(app *eav.Application) error {
		out, err := app.Domain(domainKey).CreateEntity(ctx, strings.TrimSpace(id))
		created = out
		return err
	})
	return created, err
}

func (s *StoreService) Domains(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.tx(ctx, func(app *eav.Application) error {
		out, err := app.Domains(ctx)
		keys = out
		return err
	})
	return keys, err
}

// Applications lists every application key in the database, not just the
// served one.
func (s *StoreService) Applications(ctx context.Context) ([]string, error) {
	return s.db.Applications(ctx)
}

func (s *StoreService) Attributes(ctx context.Context, domainKey, id string) ([]string, error) {
	var keys []string
	err := s.tx(ctx, func(app *eav.Application) error {
		out, err := app.Domain(domainKey).Entity(id).Attributes(ctx)
		keys = out
		return err
	})
	return keys, err
}

// Record reads every attribute the domain model declares for an existing
// entity. Unlike single-value reads it never materializes a missing entity.
func (s *StoreService) Record(ctx context.Context, domainKey, id string) (domain.Record, error) {
	model, ok := s.schema.Model(domainKey)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: domain %q has no model", domain.ErrInvalidInput, domainKey)
	}

	record := domain.Record{Domain: domainKey, ID: id, Fields: make(map[string]any, len(model.Attributes))}
	err := s.tx(ctx, func(app *eav.Application) error {
		entity := app.Domain(domainKey).Entity(id)
		_, exists, err := entity.Lookup(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, domainKey, id)
		}
		for _, key := range model.Keys() {
			v, err := readAttribute(ctx, entity.Attribute(key), model.Attributes[key])
			if err != nil {
				return err
			}
			record.Fields[key] = v
		}
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	return record, nil
}

func readAttribute(ctx context.Context, attr *eav.Attribute, kind domain.ValueKind) (any, error) {
	switch kind {
	case domain.KindText:
		return attr.Text().Get(ctx)
	case domain.KindNumeric:
		return attr.Numeric().Get(ctx)
	case domain.KindDocument:
		return attr.Document().Get(ctx)
	case domain.KindFile:
		b, err := attr.File().Get(ctx)
		return domain.ByteArray(b), err
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}

func (s *StoreService) DropEntity(ctx context.Context, domainKey, id string) error {
	return s.Drop(ctx, domain.DropTarget{Level: domain.LevelEntity, Domain: domainKey, Entity: id})
}

// Drop removes a node of the served application; target.Application is
// always overwritten.
func (s *StoreService) Drop(ctx context.Context, target domain.DropTarget) error {
	target.Application = s.application
	if err := target.Validate(); err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(tx *eav.Database) error {
		return tx.Drop(ctx, target)
	})
}
