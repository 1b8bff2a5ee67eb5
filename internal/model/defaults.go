package model

// 编译期默认值：存储值按字段覆盖在其上
var (
	DefaultDeliverySettings = DeliverySettings{
		Enabled:               true,
		RestaurantAddress:     "Via Roma 1, 10123 Torino TO, Italia",
		RestaurantLat:         45.0703,
		RestaurantLng:         7.6869,
		MaxDeliveryDistanceKm: 15,
		BaseDeliveryFee:       7,
		FreeDeliveryThreshold: 0,
	}

	DefaultDeliveryZones = []DeliveryZone{
		{ID: "zone-1", Name: "Zone 1", MaxDistanceKm: 5, DeliveryFee: 3, EstimatedTimeText: "20-30 min", IsActive: true},
		{ID: "zone-2", Name: "Zone 2", MaxDistanceKm: 10, DeliveryFee: 5, EstimatedTimeText: "30-45 min", IsActive: true},
		{ID: "zone-3", Name: "Zone 3", MaxDistanceKm: 15, DeliveryFee: 7, EstimatedTimeText: "45-60 min", IsActive: true},
	}
)
