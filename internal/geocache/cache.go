// 包 geocache：地理编码结果缓存（进程内 + 可选 Redis 共享层）
// 约束：条目按规范化地址独立存取；餐厅参考点变化时整体清空。
package geocache

import (
	"context"
	"strings"
	"time"
)

const DefaultTTL = 24 * time.Hour

// Entry：缓存的地理编码结果
type Entry struct {
	NormalizedAddress string    `json:"normalizedAddress"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	FormattedAddress  string    `json:"formattedAddress"`
	ResolvedAt        time.Time `json:"resolvedAt"`
}

type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, e Entry)
	Purge(ctx context.Context) error
}

// Normalize：去首尾空白、转小写、合并连续空白
func Normalize(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}
