package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_OverlayWinsPerField(t *testing.T) {
	base := json.RawMessage(`{"enabled":true,"maxDeliveryDistanceKm":15,"baseDeliveryFee":7}`)
	overlay := json.RawMessage(`{"baseDeliveryFee":4.5}`)
	out, err := Merge(base, overlay)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":true,"maxDeliveryDistanceKm":15,"baseDeliveryFee":4.5}`, string(out))
}

func TestMerge_NestedObjects(t *testing.T) {
	out, err := Merge(json.RawMessage(`{"a":{"x":1,"y":2},"b":1}`), json.RawMessage(`{"a":{"y":3}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"x":1,"y":3},"b":1}`, string(out))
}

func TestMerge_ArraysReplaceWholesale(t *testing.T) {
	out, err := Merge(json.RawMessage(`[{"id":"zone-1"},{"id":"zone-2"}]`), json.RawMessage(`[{"id":"a"}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, string(out))
}

func TestMerge_NullKeepsBase(t *testing.T) {
	out, err := Merge(json.RawMessage(`{"restaurantAddress":"Via Roma 1"}`), json.RawMessage(`{"restaurantAddress":null}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"restaurantAddress":"Via Roma 1"}`, string(out))

	out, err = Merge(json.RawMessage(`{"a":1}`), json.RawMessage(`null`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
}

func TestMerge_EmptySides(t *testing.T) {
	out, err := Merge(nil, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))

	out, err = Merge(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestMerge_PreservesNumberText(t *testing.T) {
	out, err := Merge(json.RawMessage(`{"lat":45.07030000001}`), json.RawMessage(`{"n":12345678901234567890}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "45.07030000001")
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestMerge_InvalidOverlay(t *testing.T) {
	_, err := Merge(json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":`))
	assert.ErrorIs(t, err, ErrInvalid)
}
