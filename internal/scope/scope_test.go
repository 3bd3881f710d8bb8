package scope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	sc, err := Parse("order:7f3a")
	require.NoError(t, err)
	assert.Equal(t, Order("7f3a"), sc)

	sc, err = Parse("store:12")
	require.NoError(t, err)
	assert.Equal(t, Store("12"), sc)

	for _, raw := range []string{"", "order", "order:", "basket:9", "order:a b", "order:a:b:"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidScope, "raw=%q", raw)
	}
}

func TestParseNestedColonKeepsID(t *testing.T) {
	// ids may not contain colons; the first cut decides the kind
	_, err := Parse("order:a:b")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestJSONRoundTrip(t *testing.T) {
	in := Order("o-1")
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"order:o-1"`, string(b))

	var out Scope
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	var bad Scope
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &bad))
}
