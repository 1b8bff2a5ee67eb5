package api

import (
	"encoding/json"
	"time"
)

// 文档注释：报价请求与响应（对外）
// 约束：fee 与 distanceKm 以指针区分“未定义”；超出范围时不返回 fee。
type quoteRequest struct {
	Address       string   `json:"address"`
	OrderSubtotal *float64 `json:"orderSubtotal"`
}

type quoteResponse struct {
	WithinRange         bool     `json:"withinRange"`
	Fee                 *float64 `json:"fee,omitempty"`
	ZoneName            string   `json:"zoneName,omitempty"`
	EstimatedTimeText   string   `json:"estimatedTimeText,omitempty"`
	DistanceKm          *float64 `json:"distanceKm,omitempty"`
	FreeDeliveryApplied bool     `json:"freeDeliveryApplied"`
	FormattedAddress    string   `json:"formattedAddress,omitempty"`
	Disabled            bool     `json:"disabled,omitempty"`
	ErrorKind           string   `json:"errorKind,omitempty"`
	Message             string   `json:"message,omitempty"`
}

type settingResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Stored    bool            `json:"stored"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
