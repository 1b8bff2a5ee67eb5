package settings

import (
	"encoding/json"

	"delivery-zone/internal/model"
)

// PublicValue：面向店面的视图，去除 deliverySettings 中的地理编码密钥；其他 key 原样返回
func PublicValue(key string, raw json.RawMessage) (json.RawMessage, error) {
	if key != model.KeyDeliverySettings {
		return raw, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "geocodingApiKey")
	return json.Marshal(m)
}
