// 包 model：配送相关的持久化结构（设置键与 JSON 形状）
package model

import (
	"errors"
	"fmt"
	"math"

	"delivery-zone/internal/geo"
)

// 固定设置键
const (
	KeyDeliverySettings = "deliverySettings"
	KeyDeliveryZones    = "deliveryZones"
)

var ErrInvalidSettings = errors.New("invalid delivery settings")

// 文档注释：配送设置（deliverySettings 键的值）
// 约束：字段名与存储 JSON 对齐；geocodingApiKey 不对店面端输出，见 Public。
type DeliverySettings struct {
	Enabled               bool    `json:"enabled"`
	RestaurantAddress     string  `json:"restaurantAddress"`
	RestaurantLat         float64 `json:"restaurantLat"`
	RestaurantLng         float64 `json:"restaurantLng"`
	MaxDeliveryDistanceKm float64 `json:"maxDeliveryDistanceKm"`
	BaseDeliveryFee       float64 `json:"baseDeliveryFee"`
	FreeDeliveryThreshold float64 `json:"freeDeliveryThreshold"`
	GeocodingAPIKey       string  `json:"geocodingApiKey"`
}

// Validate：坐标范围、最大距离 > 0、免运费门槛 >= 0、基础运费 >= 0
func (s DeliverySettings) Validate() error {
	if err := s.ReferencePoint().Validate(); err != nil {
		return fmt.Errorf("%w: restaurant %v", ErrInvalidSettings, err)
	}
	if !finite(s.MaxDeliveryDistanceKm) || s.MaxDeliveryDistanceKm <= 0 {
		return fmt.Errorf("%w: maxDeliveryDistanceKm must be > 0, got %v", ErrInvalidSettings, s.MaxDeliveryDistanceKm)
	}
	if !finite(s.FreeDeliveryThreshold) || s.FreeDeliveryThreshold < 0 {
		return fmt.Errorf("%w: freeDeliveryThreshold must be >= 0, got %v", ErrInvalidSettings, s.FreeDeliveryThreshold)
	}
	if !finite(s.BaseDeliveryFee) || s.BaseDeliveryFee < 0 {
		return fmt.Errorf("%w: baseDeliveryFee must be >= 0, got %v", ErrInvalidSettings, s.BaseDeliveryFee)
	}
	return nil
}

// ReferencePoint：餐厅坐标
func (s DeliverySettings) ReferencePoint() geo.Point {
	return geo.Point{Lat: s.RestaurantLat, Lng: s.RestaurantLng}
}

// 文档注释：配送区域（deliveryZones 键的数组元素）
// 约束：存储顺序即校验顺序；启用区域按 maxDistanceKm 严格递增。
type DeliveryZone struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	MaxDistanceKm     float64 `json:"maxDistanceKm"`
	DeliveryFee       float64 `json:"deliveryFee"`
	EstimatedTimeText string  `json:"estimatedTimeText"`
	IsActive          bool    `json:"isActive"`
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
