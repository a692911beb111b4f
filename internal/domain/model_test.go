package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteArrayUsesNumberArrays(t *testing.T) {
	raw, err := json.Marshal(ByteArray{0, 7, 255})
	require.NoError(t, err)
	assert.JSONEq(t, `[0,7,255]`, string(raw))

	raw, err = json.Marshal(ByteArray{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	var b ByteArray
	require.NoError(t, json.Unmarshal([]byte(`[1,2,3]`), &b))
	assert.Equal(t, ByteArray{1, 2, 3}, b)

	assert.ErrorIs(t, json.Unmarshal([]byte(`[256]`), &b), ErrInvalidInput)
	assert.ErrorIs(t, json.Unmarshal([]byte(`"AQID"`), &b), ErrInvalidInput)
}

func TestValueRefValidate(t *testing.T) {
	assert.NoError(t, ValueRef{Domain: "post", ID: "p1", Key: "title"}.Validate())
	assert.ErrorIs(t, ValueRef{Domain: "post", ID: "p1"}.Validate(), ErrInvalidInput)
	assert.Equal(t, "post/p1/title", ValueRef{Domain: "post", ID: "p1", Key: "title"}.String())
}
