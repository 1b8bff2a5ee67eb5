package quote

import (
	"errors"
	"fmt"

	"delivery-zone/internal/geocode"
	"delivery-zone/internal/model"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/zone"
)

// Kind：报价失败分类，取值即对外的 errorKind
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindConfigTransport      Kind = "config_transport"
	KindInvalidSettings      Kind = "invalid_settings"
	KindInvalidZones         Kind = "invalid_zone_configuration"
	KindGeocodeNotFound      Kind = "geocode_not_found"
	KindGeocodeQuotaExceeded Kind = "geocode_quota_exceeded"
	KindGeocodeDenied        Kind = "geocode_denied"
	KindGeocodeTransient     Kind = "geocode_transient"
)

var messages = map[Kind]string{
	KindInvalidRequest:       "Please enter a delivery address and a valid order total.",
	KindConfigTransport:      "Delivery settings are temporarily unavailable. Please try again shortly.",
	KindInvalidSettings:      "Delivery is misconfigured. Please contact the restaurant.",
	KindInvalidZones:         "Delivery zones are misconfigured. Please contact the restaurant.",
	KindGeocodeNotFound:      "We could not find that address. Please check it and try again.",
	KindGeocodeQuotaExceeded: "Address lookup is unavailable right now. Please contact the restaurant.",
	KindGeocodeDenied:        "Address lookup is not configured. Please contact the restaurant.",
	KindGeocodeTransient:     "Address lookup is temporarily unavailable. Please try again.",
}

// Message：面向用户的提示文本，每种失败各不相同
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return "Delivery quote failed."
}

// Error：报价失败，Kind 用于 HTTP 映射与前端提示
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf：从任意 error 中取出 Kind；非报价错误返回空串
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

// classifyConfig：设置读取错误分类
func classifyConfig(err error) *Error {
	switch {
	case errors.Is(err, settings.ErrTransport):
		return &Error{Kind: KindConfigTransport, Err: err}
	case errors.Is(err, zone.ErrInvalidConfiguration):
		return &Error{Kind: KindInvalidZones, Err: err}
	case errors.Is(err, model.ErrInvalidSettings), errors.Is(err, settings.ErrInvalid):
		return &Error{Kind: KindInvalidSettings, Err: err}
	}
	return &Error{Kind: KindConfigTransport, Err: err}
}

func classifyGeocode(o geocode.Outcome) *Error {
	k := KindGeocodeTransient
	switch o.Kind {
	case geocode.NotFound:
		k = KindGeocodeNotFound
	case geocode.QuotaExceeded:
		k = KindGeocodeQuotaExceeded
	case geocode.Denied:
		k = KindGeocodeDenied
	}
	return &Error{Kind: k, Err: o.Err()}
}
