package eav

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmsrsd/strn-app/internal/domain"
)

// Browse pages through entity ids ordered by insertion. A skip past the
// end yields an empty page.
func (d *Domain) Browse(ctx context.Context, query domain.BrowseQuery) (domain.Page, error) {
	page := domain.Page{IDs: []string{}, Skip: query.Skip, Take: query.Take}
	if query.Skip < 0 || query.Take < 0 {
		return page, fmt.Errorf("%w: skip and take must not be negative", domain.ErrInvalidInput)
	}

	id, ok, err := d.Lookup(ctx)
	if err != nil || !ok {
		return page, err
	}

	base := d.db().WithContext(ctx).Model(&entityRow{}).Where("domain_id = ?", id)
	if err := base.Count(&page.Total).Error; err != nil {
		return page, fmt.Errorf("count entities: %w", err)
	}
	if int64(query.Skip) >= page.Total || query.Take == 0 {
		return page, nil
	}

	order := "id ASC"
	if query.Order == domain.OrderDesc {
		order = "id DESC"
	}
	keys := make([]string, 0, query.Take)
	err = d.db().WithContext(ctx).Model(&entityRow{}).
		Where("domain_id = ?", id).
		Order(order).
		Offset(query.Skip).
		Limit(query.Take).
		Pluck("key", &keys).Error
	if err != nil {
		return page, fmt.Errorf("browse entities: %w", err)
	}
	page.IDs = keys
	return page, nil
}

func (d *Domain) Count(ctx context.Context) (int64, error) {
	id, ok, err := d.Lookup(ctx)
	if err != nil || !ok {
		return 0, err
	}
	var total int64
	if err := d.db().WithContext(ctx).Model(&entityRow{}).Where("domain_id = ?", id).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return total, nil
}

// Find returns the ids of entities in this domain whose attribute key holds
// a value in the kind's store that satisfies pred, in insertion order.
func (d *Domain) Find(ctx context.Context, kind domain.ValueKind, key string, pred domain.Predicate) ([]string, error) {
	normalized, err := pred.Normalize(kind)
	if err != nil {
		return nil, err
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	domainID, ok, err := d.Lookup(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}

	filter, args := compilePredicate("v.value", normalized)
	where := "e.domain_id = ? AND a.key = ?"
	if filter != "" {
		where += " AND " + filter
	}
	q := fmt.Sprintf(`
SELECT e.key
FROM %s v
JOIN eav_attributes a ON a.id = v.attribute_id
JOIN eav_entities e ON e.id = a.entity_id
WHERE %s
ORDER BY e.id ASC
`, table, where)

	type row struct{ Key string }
	rows := make([]row, 0)
	if err := d.db().WithContext(ctx).Raw(q, append([]any{domainID, key}, args...)...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("find in %s: %w", table, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Key)
	}
	return ids, nil
}

func tableFor(kind domain.ValueKind) (string, error) {
	switch kind {
	case domain.KindText:
		return tableTexts, nil
	case domain.KindNumeric:
		return tableNumerics, nil
	case domain.KindDocument:
		return tableDocuments, nil
	case domain.KindFile:
		return tableFiles, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}

// compilePredicate renders p against column as a parameterized condition.
// Operand values only ever travel as bind arguments.
func compilePredicate(column string, p domain.Predicate) (string, []any) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)

	compare := func(op string, v any) {
		if v == nil {
			return
		}
		clauses = append(clauses, column+" "+op+" ?")
		args = append(args, v)
	}
	compare("=", p.Equals)
	compare("<", p.Lt)
	compare("<=", p.Lte)
	compare(">", p.Gt)
	compare(">=", p.Gte)

	if p.In != nil {
		if len(p.In) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			clauses = append(clauses, column+" IN ?")
			args = append(args, p.In)
		}
	}
	if len(p.NotIn) > 0 {
		clauses = append(clauses, column+" NOT IN ?")
		args = append(args, p.NotIn)
	}

	if p.Contains != nil && *p.Contains != "" {
		clauses = append(clauses, "instr("+column+", ?) > 0")
		args = append(args, *p.Contains)
	}
	if p.StartsWith != nil && *p.StartsWith != "" {
		clauses = append(clauses, "substr("+column+", 1, length(?)) = ?")
		args = append(args, *p.StartsWith, *p.StartsWith)
	}
	if p.EndsWith != nil && *p.EndsWith != "" {
		clauses = append(clauses, "substr("+column+", -length(?)) = ?")
		args = append(args, *p.EndsWith, *p.EndsWith)
	}

	return strings.Join(clauses, " AND "), args
}
