// 包 geocode：自由文本地址到坐标的地理编码客户端
package geocode

import (
	"errors"
	"fmt"
)

// Kind：地理编码结果分类；Resolved 以外均为有类型的失败
type Kind int

const (
	Resolved Kind = iota
	NotFound
	QuotaExceeded
	Denied
	Transient
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case QuotaExceeded:
		return "quota_exceeded"
	case Denied:
		return "denied"
	case Transient:
		return "transient"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrNotFound      = errors.New("address not found")
	ErrQuotaExceeded = errors.New("geocoding quota exceeded")
	ErrDenied        = errors.New("geocoding request denied")
	ErrTransient     = errors.New("geocoding temporarily unavailable")
)

// Outcome：一次 Resolve 的结果
// 约束：Kind==Resolved 时坐标与 FormattedAddress 有效；Cause 仅用于日志，不面向用户。
type Outcome struct {
	Kind             Kind
	Lat              float64
	Lng              float64
	FormattedAddress string
	Status           string
	Attempts         int
	Cause            error
}

// Err：Resolved 返回 nil，其余返回包装了哨兵错误的 error，可用 errors.Is 判断
func (o Outcome) Err() error {
	var base error
	switch o.Kind {
	case Resolved:
		return nil
	case NotFound:
		base = ErrNotFound
	case QuotaExceeded:
		base = ErrQuotaExceeded
	case Denied:
		base = ErrDenied
	default:
		base = ErrTransient
	}
	if o.Cause != nil {
		return fmt.Errorf("%w: %v", base, o.Cause)
	}
	if o.Status != "" {
		return fmt.Errorf("%w: status %s", base, o.Status)
	}
	return base
}
