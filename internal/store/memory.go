package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"delivery-zone/internal/settings"
)

// Memory：进程内设置后端，语义与 Postgres 一致（最后写入者胜、首次读取建行）
// 用于测试与未配置数据库的本地运行
type Memory struct {
	mu   sync.RWMutex
	rows map[string]settings.Setting
}

func NewMemory() *Memory { return &Memory{rows: make(map[string]settings.Setting)} }

func (m *Memory) GetSetting(ctx context.Context, key string) (settings.Setting, bool, error) {
	if err := ctx.Err(); err != nil {
		return settings.Setting{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[key]
	if !ok {
		return settings.Setting{Key: key}, false, nil
	}
	return clone(s), true, nil
}

func (m *Memory) UpsertSetting(ctx context.Context, s settings.Setting) (settings.Setting, error) {
	if err := ctx.Err(); err != nil {
		return settings.Setting{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rows[s.Key]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return settings.Setting{}, settings.ErrSuperseded
	}
	m.rows[s.Key] = clone(s)
	return clone(s), nil
}

func (m *Memory) InsertSettingIfAbsent(ctx context.Context, s settings.Setting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.Key]; !ok {
		m.rows[s.Key] = clone(s)
	}
	return nil
}

func (m *Memory) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settings.Setting, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func clone(s settings.Setting) settings.Setting {
	s.Value = append(json.RawMessage(nil), s.Value...)
	return s
}
