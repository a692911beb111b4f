package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateBareScalarIsEquals(t *testing.T) {
	var p Predicate
	require.NoError(t, json.Unmarshal([]byte(`"Bar"`), &p))
	assert.Equal(t, "Bar", p.Equals)

	require.NoError(t, json.Unmarshal([]byte(`42`), &p))
	assert.Equal(t, float64(42), p.Equals)
}

func TestPredicateRejectsNonScalarShorthand(t *testing.T) {
	var p Predicate
	err := json.Unmarshal([]byte(`true`), &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPredicateInAcceptsScalarOrList(t *testing.T) {
	var p Predicate
	require.NoError(t, json.Unmarshal([]byte(`{"in":"a","notIn":["b","c"],"contains":"x"}`), &p))
	assert.Equal(t, []any{"a"}, p.In)
	assert.Equal(t, []any{"b", "c"}, p.NotIn)
	require.NotNil(t, p.Contains)
	assert.Equal(t, "x", *p.Contains)

	require.NoError(t, json.Unmarshal([]byte(`{"gte":1}`), &p))
	assert.Nil(t, p.In)
	assert.Nil(t, p.NotIn)
	assert.Equal(t, float64(1), p.Gte)
}

func TestPredicateNormalizeNumeric(t *testing.T) {
	p, err := Predicate{Equals: 3, In: []any{int64(1), uint8(2)}, Lt: float32(9)}.Normalize(KindNumeric)
	require.NoError(t, err)
	assert.Equal(t, float64(3), p.Equals)
	assert.Equal(t, []any{float64(1), float64(2)}, p.In)
	assert.Equal(t, float64(9), p.Lt)

	_, err = Predicate{Equals: "3"}.Normalize(KindNumeric)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Contains("1").Normalize(KindNumeric)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPredicateNormalizeStrings(t *testing.T) {
	p, err := StartsWith("Hel").Normalize(KindText)
	require.NoError(t, err)
	require.NotNil(t, p.StartsWith)
	assert.Equal(t, "Hel", *p.StartsWith)

	_, err = Equals(1).Normalize(KindDocument)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPredicateFileIsNotFilterable(t *testing.T) {
	_, err := Equals("x").Normalize(KindFile)
	assert.ErrorIs(t, err, ErrNotFilterable)
}
