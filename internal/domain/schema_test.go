package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValueKind(t *testing.T) {
	kind, err := ParseValueKind(" Numeric ")
	require.NoError(t, err)
	assert.Equal(t, KindNumeric, kind)

	_, err = ParseValueKind("blob")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSchemaValidate(t *testing.T) {
	ok := Schema{Models: []Model{{Domain: "post", Attributes: map[string]ValueKind{"title": KindText}}}}
	require.NoError(t, ok.Validate())

	kind, found := ok.Kind("post", "title")
	assert.True(t, found)
	assert.Equal(t, KindText, kind)
	_, found = ok.Kind("post", "missing")
	assert.False(t, found)

	dup := Schema{Models: []Model{{Domain: "post"}, {Domain: "post"}}}
	assert.ErrorIs(t, dup.Validate(), ErrInvalidInput)

	bad := Schema{Models: []Model{{Domain: "post", Attributes: map[string]ValueKind{"x": "blob"}}}}
	assert.ErrorIs(t, bad.Validate(), ErrUnknownKind)
}

func TestDropTargetValidate(t *testing.T) {
	cases := []struct {
		name   string
		target DropTarget
		ok     bool
	}{
		{"application", DropTarget{Level: LevelApplication, Application: "app"}, true},
		{"domain without key", DropTarget{Level: LevelDomain, Application: "app"}, false},
		{"entity", DropTarget{Level: LevelEntity, Application: "app", Domain: "post", Entity: "p1"}, true},
		{"attribute without key", DropTarget{Level: LevelAttribute, Application: "app", Domain: "post", Entity: "p1"}, false},
		{"unknown level", DropTarget{Level: "table", Application: "app"}, false},
		{"missing application", DropTarget{Level: LevelApplication}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.target.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
