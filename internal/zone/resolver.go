// 包 zone：按距离与订单小计匹配配送区域，纯函数，不做 I/O
package zone

import (
	"errors"
	"fmt"
	"math"

	"delivery-zone/internal/model"
)

var (
	ErrInvalidConfiguration = errors.New("invalid zone configuration")
	ErrInvalidDistance      = errors.New("invalid distance")
	ErrInvalidSubtotal      = errors.New("invalid order subtotal")
)

// 文档注释：区域匹配结果
// 约束：WithinRange=false 时 Zone 为空、Fee 无意义、ZoneIndex=-1；
// Implicit=true 表示未命中任何区域、按 baseDeliveryFee 计价（ZoneIndex=启用区域数）。
type Quote struct {
	DistanceKm          float64
	Zone                *model.DeliveryZone
	ZoneIndex           int
	Implicit            bool
	Fee                 float64
	WithinRange         bool
	FreeDeliveryApplied bool
}

// 文档注释：校验区域表并返回启用区域（存储顺序，即升序）
// 约束：id 非空且唯一；距离与运费有限且非负；启用区域按 maxDistanceKm 严格递增。
// 不做重排：乱序表直接拒绝。
func Validate(zones []model.DeliveryZone) ([]model.DeliveryZone, error) {
	seen := make(map[string]struct{}, len(zones))
	active := make([]model.DeliveryZone, 0, len(zones))
	for i, z := range zones {
		if z.ID == "" {
			return nil, fmt.Errorf("%w: zone #%d has empty id", ErrInvalidConfiguration, i)
		}
		if _, dup := seen[z.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate zone id %q", ErrInvalidConfiguration, z.ID)
		}
		seen[z.ID] = struct{}{}
		if !finite(z.MaxDistanceKm) || z.MaxDistanceKm < 0 {
			return nil, fmt.Errorf("%w: zone %q maxDistanceKm %v", ErrInvalidConfiguration, z.ID, z.MaxDistanceKm)
		}
		if !finite(z.DeliveryFee) || z.DeliveryFee < 0 {
			return nil, fmt.Errorf("%w: zone %q deliveryFee %v", ErrInvalidConfiguration, z.ID, z.DeliveryFee)
		}
		if !z.IsActive {
			continue
		}
		if n := len(active); n > 0 && z.MaxDistanceKm <= active[n-1].MaxDistanceKm {
			return nil, fmt.Errorf("%w: zone %q maxDistanceKm %v not above %q (%v)",
				ErrInvalidConfiguration, z.ID, z.MaxDistanceKm, active[n-1].ID, active[n-1].MaxDistanceKm)
		}
		active = append(active, z)
	}
	return active, nil
}

// 文档注释：区域匹配
// 步骤：超出 maxDeliveryDistanceKm 直接判定不可配送；否则升序扫描，首个 maxDistanceKm >= 距离的区域命中（上界包含）；
// 全部未命中时以 baseDeliveryFee 作为隐式末级区域；小计 >= 免运费门槛（门槛 > 0）时运费置 0 并保留区域信息。
func Resolve(distanceKm, orderSubtotal float64, zones []model.DeliveryZone, s model.DeliverySettings) (Quote, error) {
	if !finite(distanceKm) || distanceKm < 0 {
		return Quote{}, fmt.Errorf("%w: %v", ErrInvalidDistance, distanceKm)
	}
	if !finite(orderSubtotal) || orderSubtotal < 0 {
		return Quote{}, fmt.Errorf("%w: %v", ErrInvalidSubtotal, orderSubtotal)
	}
	if err := s.Validate(); err != nil {
		return Quote{}, err
	}
	active, err := Validate(zones)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{DistanceKm: distanceKm, ZoneIndex: -1}
	if distanceKm > s.MaxDeliveryDistanceKm {
		return q, nil
	}
	q.WithinRange = true
	q.ZoneIndex = len(active)
	q.Implicit = true
	q.Fee = s.BaseDeliveryFee
	for i := range active {
		if active[i].MaxDistanceKm >= distanceKm {
			z := active[i]
			q.Zone = &z
			q.ZoneIndex = i
			q.Implicit = false
			q.Fee = z.DeliveryFee
			break
		}
	}
	if s.FreeDeliveryThreshold > 0 && orderSubtotal >= s.FreeDeliveryThreshold {
		q.Fee = 0
		q.FreeDeliveryApplied = true
	}
	return q, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
