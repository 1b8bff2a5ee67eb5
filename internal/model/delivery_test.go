package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDeliverySettings_Valid(t *testing.T) {
	require.NoError(t, DefaultDeliverySettings.Validate())
}

func TestDeliverySettings_Validate(t *testing.T) {
	cases := map[string]func(*DeliverySettings){
		"lat out of range":   func(s *DeliverySettings) { s.RestaurantLat = 95 },
		"lng out of range":   func(s *DeliverySettings) { s.RestaurantLng = -181 },
		"zero max distance":  func(s *DeliverySettings) { s.MaxDeliveryDistanceKm = 0 },
		"nan max distance":   func(s *DeliverySettings) { s.MaxDeliveryDistanceKm = math.NaN() },
		"negative threshold": func(s *DeliverySettings) { s.FreeDeliveryThreshold = -1 },
		"negative base fee":  func(s *DeliverySettings) { s.BaseDeliveryFee = -0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := DefaultDeliverySettings
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
		})
	}
}
