// 包 api：集中注册 HTTP API 路由，主入口只负责挂载到 API_BASE 前缀
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/model"
	"delivery-zone/internal/quote"
	"delivery-zone/internal/settings"
)

const maxBody = 1 << 20

// Settings：*settings.Store 满足
type Settings interface {
	Snapshot(ctx context.Context, key string) (*settings.Snapshot, error)
	Upsert(ctx context.Context, key string, value json.RawMessage) (settings.Setting, error)
	Preview(key string, value json.RawMessage) (json.RawMessage, error)
	Known(key string) bool
}

// Quoter：*quote.Service 满足
type Quoter interface {
	Quote(ctx context.Context, address string, orderSubtotal float64) (quote.Result, error)
}

// Deps：路由依赖；Live 与 Ping 可为空
type Deps struct {
	Settings   Settings
	Quotes     Quoter
	Live       http.Handler
	Ping       func(ctx context.Context) error
	AdminToken string
}

// BuildRoutes：独立路由便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *mux.Router {
	r := mux.NewRouter()
	h := &handlers{d: d}
	r.HandleFunc("/quote", h.quote).Methods(http.MethodPost)
	if d.Live != nil {
		r.Handle("/settings/stream", d.Live).Methods(http.MethodGet)
	}
	r.HandleFunc("/settings/{key}", h.getSetting).Methods(http.MethodGet)
	r.HandleFunc("/settings/{key}", h.putSetting).Methods(http.MethodPut)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	return r
}

type handlers struct {
	d Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor：报价失败分类到 HTTP 状态码
func statusFor(k quote.Kind) int {
	switch k {
	case quote.KindInvalidRequest:
		return http.StatusBadRequest
	case quote.KindConfigTransport:
		return http.StatusBadGateway
	case quote.KindInvalidSettings, quote.KindInvalidZones:
		return http.StatusInternalServerError
	case quote.KindGeocodeNotFound:
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil || req.OrderSubtotal == nil {
		k := quote.KindInvalidRequest
		writeJSON(w, statusFor(k), quoteResponse{ErrorKind: string(k), Message: k.Message()})
		return
	}
	res, err := h.d.Quotes.Quote(r.Context(), req.Address, *req.OrderSubtotal)
	if err != nil {
		k := quote.KindOf(err)
		if k == "" {
			logger.L().Error("quote_unclassified_error", "err", err)
			k = quote.KindGeocodeTransient
		}
		writeJSON(w, statusFor(k), quoteResponse{ErrorKind: string(k), Message: k.Message()})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

func toResponse(res quote.Result) quoteResponse {
	if res.Disabled {
		return quoteResponse{Disabled: true, Message: "Delivery is currently unavailable."}
	}
	d := res.DistanceKm
	out := quoteResponse{
		WithinRange:         res.WithinRange,
		DistanceKm:          &d,
		FreeDeliveryApplied: res.FreeDeliveryApplied,
		FormattedAddress:    res.FormattedAddress,
	}
	if !res.WithinRange {
		return out
	}
	fee := res.Fee
	out.Fee = &fee
	if res.Zone != nil {
		out.ZoneName = res.Zone.Name
		out.EstimatedTimeText = res.Zone.EstimatedTimeText
	}
	return out
}

// isAdmin：x-admin-token 与 ADMIN_TOKEN 一致；未配置令牌时一律拒绝
func (h *handlers) isAdmin(r *http.Request) bool {
	t := r.Header.Get("x-admin-token")
	if t == "" || h.d.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t), []byte(h.d.AdminToken)) == 1
}

func (h *handlers) getSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !h.d.Settings.Known(key) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown_key"})
		return
	}
	snap, err := h.d.Settings.Snapshot(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(quote.KindConfigTransport), Message: quote.KindConfigTransport.Message()})
		return
	}
	v := snap.Value
	if !h.isAdmin(r) {
		if v, err = settings.PublicValue(key, snap.Value); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(quote.KindInvalidSettings)})
			return
		}
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: v, UpdatedAt: snap.UpdatedAt, Stored: snap.Stored})
}

type zonesBody struct {
	Zones []model.DeliveryZone `json:"zones"`
}

// 文档注释：管理端写入
// 背景：写入前按“合并到默认值后”的视图预校验，拒绝会在读取时失败的值；读取时的校验仍然生效。
// 约束：deliveryZones 请求体为 {zones:[...]}，缺少 id 的区域分配 uuid。
func (h *handlers) putSetting(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	key := mux.Vars(r)["key"]
	if !h.d.Settings.Known(key) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown_key"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	}
	value := json.RawMessage(body)
	switch key {
	case model.KeyDeliveryZones:
		var zb zonesBody
		if err := json.Unmarshal(body, &zb); err != nil || zb.Zones == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: "expected {\"zones\": [...]}"})
			return
		}
		for i := range zb.Zones {
			if zb.Zones[i].ID == "" {
				zb.Zones[i].ID = uuid.NewString()
			}
		}
		value, _ = json.Marshal(zb.Zones)
		if _, err := settings.DecodeDeliveryZones(value); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: string(quote.KindInvalidZones), Message: err.Error()})
			return
		}
	case model.KeyDeliverySettings:
		merged, err := h.d.Settings.Preview(key, value)
		if err == nil {
			_, err = settings.DecodeDeliverySettings(merged)
		}
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: string(quote.KindInvalidSettings), Message: err.Error()})
			return
		}
	}
	saved, err := h.d.Settings.Upsert(r.Context(), key, value)
	switch {
	case errors.Is(err, settings.ErrSuperseded):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "superseded"})
		return
	case errors.Is(err, settings.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(quote.KindConfigTransport), Message: quote.KindConfigTransport.Message()})
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: saved.Value, UpdatedAt: saved.UpdatedAt, Stored: true})
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.d.Ping != nil {
		if err := h.d.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "err": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
