// 包 geo：球面距离与坐标校验，纯计算，无网络与状态
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm 地球平均半径（千米）
const EarthRadiusKm = 6371.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point：WGS84 坐标
type Point struct {
	Lat float64
	Lng float64
}

// 文档注释：球面距离（Haversine），返回千米
// 约束：输入为角度，内部统一转弧度；相同输入结果逐位一致。
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	sLat := math.Sin(dLat / 2)
	sLng := math.Sin(dLng / 2)
	a := sLat*sLat + math.Cos(rLat1)*math.Cos(rLat2)*sLng*sLng
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance：Point 版本
func Distance(a, b Point) float64 { return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng) }

// Validate：纬度 [-90,90]、经度 [-180,180]，拒绝 NaN/Inf
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: non-finite lat/lng", ErrInvalidCoordinate)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of [-90,90]", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lng %v out of [-180,180]", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}
