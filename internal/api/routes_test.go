package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-zone/internal/geocache"
	"delivery-zone/internal/geocode"
	"delivery-zone/internal/model"
	"delivery-zone/internal/quote"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/store"
)

type stubGeocoder map[string]geocode.Outcome

func (g stubGeocoder) Resolve(_ context.Context, address, _ string) geocode.Outcome {
	if o, ok := g[geocache.Normalize(address)]; ok {
		return o
	}
	return geocode.Outcome{Kind: geocode.NotFound}
}

func newServer(t *testing.T) (*httptest.Server, *settings.Store) {
	t.Helper()
	st := settings.New(store.NewMemory())
	c := geocache.NewMemory(time.Hour, 0)
	t.Cleanup(c.Close)
	g := stubGeocoder{
		"via garibaldi 20, torino": {Kind: geocode.Resolved, Lat: 45.0801, Lng: 7.6734, FormattedAddress: "Via Garibaldi, 20, Torino"},
		"far away":                 {Kind: geocode.Resolved, Lat: 45.0703 + 16.0/111.195, Lng: 7.6869},
		"quota":                    {Kind: geocode.QuotaExceeded},
	}
	svc := quote.New(st, g, c, quote.WithAPIKeyFallback("k"))
	srv := httptest.NewServer(BuildRoutes(Deps{Settings: st, Quotes: svc, AdminToken: "admin"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url, body string, admin bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	if admin {
		req.Header.Set("x-admin-token", "admin")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var m map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&m)
	return resp, m
}

func TestQuote_InRange(t *testing.T) {
	srv, _ := newServer(t)
	resp, m := do(t, http.MethodPost, srv.URL+"/quote", `{"address":"Via Garibaldi 20, Torino","orderSubtotal":20}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, m["withinRange"])
	assert.Equal(t, 3.0, m["fee"])
	assert.Equal(t, "Zone 1", m["zoneName"])
	assert.Equal(t, "20-30 min", m["estimatedTimeText"])
}

func TestQuote_OutOfRangeOmitsFee(t *testing.T) {
	srv, _ := newServer(t)
	resp, m := do(t, http.MethodPost, srv.URL+"/quote", `{"address":"far away","orderSubtotal":20}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, m["withinRange"])
	_, hasFee := m["fee"]
	assert.False(t, hasFee)
	_, hasKind := m["errorKind"]
	assert.False(t, hasKind)
}

func TestQuote_ErrorKinds(t *testing.T) {
	srv, _ := newServer(t)
	resp, m := do(t, http.MethodPost, srv.URL+"/quote", `{"address":"nowhere","orderSubtotal":20}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "geocode_not_found", m["errorKind"])
	assert.NotEmpty(t, m["message"])

	resp, m = do(t, http.MethodPost, srv.URL+"/quote", `{"address":"quota","orderSubtotal":20}`, false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "geocode_quota_exceeded", m["errorKind"])

	resp, m = do(t, http.MethodPost, srv.URL+"/quote", `{"address":"x"}`, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", m["errorKind"])
}

func TestQuote_Disabled(t *testing.T) {
	srv, st := newServer(t)
	_, err := st.Upsert(context.Background(), model.KeyDeliverySettings, json.RawMessage(`{"enabled":false}`))
	require.NoError(t, err)
	resp, m := do(t, http.MethodPost, srv.URL+"/quote", `{"address":"Via Garibaldi 20, Torino","orderSubtotal":20}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, m["disabled"])
}

func TestSettings_PublicGetRedactsKey(t *testing.T) {
	srv, st := newServer(t)
	_, err := st.Upsert(context.Background(), model.KeyDeliverySettings, json.RawMessage(`{"geocodingApiKey":"secret"}`))
	require.NoError(t, err)

	_, m := do(t, http.MethodGet, srv.URL+"/settings/deliverySettings", "", false)
	v := m["value"].(map[string]any)
	_, has := v["geocodingApiKey"]
	assert.False(t, has)
	assert.Equal(t, 15.0, v["maxDeliveryDistanceKm"])

	_, m = do(t, http.MethodGet, srv.URL+"/settings/deliverySettings", "", true)
	assert.Equal(t, "secret", m["value"].(map[string]any)["geocodingApiKey"])

	resp, _ := do(t, http.MethodGet, srv.URL+"/settings/menu", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettings_PutRequiresAdmin(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := do(t, http.MethodPut, srv.URL+"/settings/deliverySettings", `{"baseDeliveryFee":1}`, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSettings_PutSettingsValidated(t *testing.T) {
	srv, st := newServer(t)
	resp, m := do(t, http.MethodPut, srv.URL+"/settings/deliverySettings", `{"restaurantLat":91}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_settings", m["error"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/settings/deliverySettings", `{"baseDeliveryFee":2.5}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ds, err := st.DeliverySettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.5, ds.BaseDeliveryFee)
}

func TestSettings_PutZones(t *testing.T) {
	srv, st := newServer(t)
	resp, m := do(t, http.MethodPut, srv.URL+"/settings/deliveryZones",
		`{"zones":[{"id":"a","name":"Near","maxDistanceKm":10,"deliveryFee":5,"isActive":true},{"id":"b","name":"Far","maxDistanceKm":5,"deliveryFee":3,"isActive":true}]}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_zone_configuration", m["error"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/settings/deliveryZones",
		`{"zones":[{"name":"Near","maxDistanceKm":3,"deliveryFee":2,"isActive":true},{"name":"Far","maxDistanceKm":8,"deliveryFee":4,"isActive":true}]}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	zs, err := st.DeliveryZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zs, 2)
	assert.NotEmpty(t, zs[0].ID)
	assert.NotEqual(t, zs[0].ID, zs[1].ID)

	resp, _ = do(t, http.MethodPut, srv.URL+"/settings/deliveryZones", `[{"id":"a"}]`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(quote.KindConfigTransport))
	assert.Equal(t, http.StatusInternalServerError, statusFor(quote.KindInvalidZones))
	assert.Equal(t, http.StatusInternalServerError, statusFor(quote.KindInvalidSettings))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(quote.KindGeocodeNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(quote.KindGeocodeDenied))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(quote.KindGeocodeTransient))
}

func TestHealthz(t *testing.T) {
	r := BuildRoutes(Deps{Ping: func(context.Context) error { return errors.New("db down") }})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
