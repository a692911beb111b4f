package domain

import (
	"fmt"
	"sort"
	"strings"
)

type ValueKind string

const (
	KindText     ValueKind = "text"
	KindNumeric  ValueKind = "numeric"
	KindDocument ValueKind = "document"
	KindFile     ValueKind = "file"
)

func ParseValueKind(raw string) (ValueKind, error) {
	switch kind := ValueKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindText, KindNumeric, KindDocument, KindFile:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Filterable reports whether predicates can be evaluated against the kind.
func (k ValueKind) Filterable() bool {
	return k == KindText || k == KindNumeric || k == KindDocument
}

func (k ValueKind) Stringly() bool {
	return k == KindText || k == KindDocument
}

// Model is the static shape of one domain: which store holds each attribute.
type Model struct {
	Domain     string               `yaml:"domain" json:"domain"`
	Attributes map[string]ValueKind `yaml:"attributes" json:"attributes"`
}

// Keys returns the attribute keys in lexical order.
func (m Model) Keys() []string {
	keys := make([]string, 0, len(m.Attributes))
	for key := range m.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type Schema struct {
	Models []Model `yaml:"models" json:"models"`
}

func (s Schema) Model(domain string) (Model, bool) {
	for _, m := range s.Models {
		if m.Domain == domain {
			return m, true
		}
	}
	return Model{}, false
}

func (s Schema) Kind(domain, key string) (ValueKind, bool) {
	m, ok := s.Model(domain)
	if !ok {
		return "", false
	}
	kind, ok := m.Attributes[key]
	return kind, ok
}

func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Models))
	for _, m := range s.Models {
		if strings.TrimSpace(m.Domain) == "" {
			return fmt.Errorf("%w: model without domain", ErrInvalidInput)
		}
		if _, dup := seen[m.Domain]; dup {
			return fmt.Errorf("%w: domain %q declared twice", ErrInvalidInput, m.Domain)
		}
		seen[m.Domain] = struct{}{}
		for key, kind := range m.Attributes {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("%w: domain %q has an empty attribute key", ErrInvalidInput, m.Domain)
			}
			if _, err := ParseValueKind(string(kind)); err != nil {
				return fmt.Errorf("domain %q attribute %q: %w", m.Domain, key, err)
			}
		}
	}
	return nil
}

type DropLevel string

const (
	LevelApplication DropLevel = "application"
	LevelDomain      DropLevel = "domain"
	LevelEntity      DropLevel = "entity"
	LevelAttribute   DropLevel = "attribute"
)

// DropTarget names the node to drop; Level decides which fields are read.
type DropTarget struct {
	Level       DropLevel `json:"level"`
	Application string    `json:"application"`
	Domain      string    `json:"domain"`
	Entity      string    `json:"id"`
	Attribute   string    `json:"key"`
}

func (t DropTarget) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s drop requires %s", ErrInvalidInput, t.Level, field)
	}
	if strings.TrimSpace(t.Application) == "" {
		return missing("application")
	}
	switch t.Level {
	case LevelApplication:
		return nil
	case LevelDomain, LevelEntity, LevelAttribute:
	default:
		return fmt.Errorf("%w: unknown drop level %q", ErrInvalidInput, t.Level)
	}
	if strings.TrimSpace(t.Domain) == "" {
		return missing("domain")
	}
	if t.Level == LevelDomain {
		return nil
	}
	if strings.TrimSpace(t.Entity) == "" {
		return missing("id")
	}
	if t.Level == LevelAttribute && strings.TrimSpace(t.Attribute) == "" {
		return missing("key")
	}
	return nil
}
