package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 文档注释：分层合并（默认值为底层，存储值逐字段覆盖）
// 约束：两侧都是 JSON 对象时递归合并；其余情况覆盖层整体替换（数组不做元素级合并）；
// 覆盖层中的 null 视为未设置，保留底层值。底层或覆盖层为空时返回另一侧。
func Merge(base, overlay json.RawMessage) (json.RawMessage, error) {
	if isEmpty(overlay) {
		if isEmpty(base) {
			return json.RawMessage("null"), nil
		}
		return base, nil
	}
	if isEmpty(base) {
		return overlay, nil
	}
	var b, o any
	if err := decode(base, &b); err != nil {
		return nil, fmt.Errorf("%w: default: %v", ErrInvalid, err)
	}
	if err := decode(overlay, &o); err != nil {
		return nil, fmt.Errorf("%w: stored: %v", ErrInvalid, err)
	}
	out, err := json.Marshal(mergeValue(b, o))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func mergeValue(base, overlay any) any {
	if overlay == nil {
		return base
	}
	bm, ok1 := base.(map[string]any)
	om, ok2 := overlay.(map[string]any)
	if !ok1 || !ok2 {
		return overlay
	}
	out := make(map[string]any, len(bm)+len(om))
	for k, v := range bm {
		out[k] = v
	}
	for k, v := range om {
		out[k] = mergeValue(bm[k], v)
	}
	return out
}

// decode 保留数字原文，避免大整数与小数精度在合并中变化
func decode(raw json.RawMessage, v *any) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}

func isEmpty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
