// Package config loads process settings that live outside CLI flags: the
// optional .env file and the static domain model.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadEnv exports the variables of every existing file in paths without
// overriding variables already set. Missing files are skipped.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

// LoadSchema reads the domain model from a YAML file. An empty path yields
// DefaultSchema.
func LoadSchema(path string) (domain.Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}

func ParseSchema(data []byte) (domain.Schema, error) {
	var schema domain.Schema
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&schema); err != nil {
		return domain.Schema{}, fmt.Errorf("parse schema: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return domain.Schema{}, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// DefaultSchema is the blog model the admin ships with.
func DefaultSchema() domain.Schema {
	return domain.Schema{Models: []domain.Model{
		{
			Domain: "post",
			Attributes: map[string]domain.ValueKind{
				"title":   domain.KindText,
				"author":  domain.KindText,
				"content": domain.KindDocument,
				"created": domain.KindNumeric,
				"updated": domain.KindNumeric,
			},
		},
		{
			Domain: "document",
			Attributes: map[string]domain.ValueKind{
				"key":   domain.KindText,
				"value": domain.KindDocument,
				"blob":  domain.KindFile,
			},
		},
	}}
}
