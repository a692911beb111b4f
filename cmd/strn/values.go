package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jmsrsd/strn-app/internal/domain"
)

// parseValue turns a CLI argument into the wire value of kind. File values
// are read from the named path.
func parseValue(kind domain.ValueKind, raw string) (any, error) {
	switch kind {
	case domain.KindText, domain.KindDocument:
		return raw, nil
	case domain.KindNumeric:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("numeric value %q: %w", raw, err)
		}
		return n, nil
	case domain.KindFile:
		data, err := os.ReadFile(raw)
		if err != nil {
			return nil, err
		}
		return domain.ByteArray(data), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}
