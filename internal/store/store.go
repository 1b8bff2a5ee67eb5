// 包 store：设置表的持久化实现（PostgreSQL 与内存）
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/settings"
)

// Postgres：settings 表访问入口，持有连接池
type Postgres struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetSetting：按 key 读取；无记录返回 found=false 而非错误
func (p *Postgres) GetSetting(ctx context.Context, key string) (settings.Setting, bool, error) {
	row := p.db.QueryRowContext(ctx, "SELECT key, value, updated_at FROM settings WHERE key=$1", key)
	var s settings.Setting
	var raw []byte
	if err := row.Scan(&s.Key, &raw, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.L().Debug("db_setting_miss", "key", key)
			return settings.Setting{Key: key}, false, nil
		}
		return settings.Setting{}, false, err
	}
	s.Value = raw
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, true, nil
}

// 文档注释：原子插入或更新（以 key 唯一约束）
// 约束：仅当已存 updated_at 不晚于本次写入时更新（最后写入者胜）；条件不满足时 RETURNING 无行，返回 ErrSuperseded。
func (p *Postgres) UpsertSetting(ctx context.Context, s settings.Setting) (settings.Setting, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO settings(key, value, updated_at)
        VALUES($1, $2::jsonb, $3)
        ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
        WHERE settings.updated_at <= EXCLUDED.updated_at
        RETURNING key, value, updated_at`,
		s.Key, []byte(s.Value), s.UpdatedAt,
	)
	var out settings.Setting
	var raw []byte
	if err := row.Scan(&out.Key, &raw, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings.Setting{}, settings.ErrSuperseded
		}
		return settings.Setting{}, err
	}
	out.Value = raw
	out.UpdatedAt = out.UpdatedAt.UTC()
	logger.L().Debug("db_setting_upsert", "key", out.Key, "updated_at", out.UpdatedAt)
	return out, nil
}

// InsertSettingIfAbsent：首次读取时以默认值建行；已存在则不变
func (p *Postgres) InsertSettingIfAbsent(ctx context.Context, s settings.Setting) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO settings(key, value, updated_at) VALUES($1, $2::jsonb, $3)
        ON CONFLICT (key) DO NOTHING`, s.Key, []byte(s.Value), s.UpdatedAt)
	return err
}

// ListSettings：按 key 排序返回全部设置，供控制台使用
func (p *Postgres) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []settings.Setting
	for rows.Next() {
		var s settings.Setting
		var raw []byte
		if err := rows.Scan(&s.Key, &raw, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Value = raw
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping：健康检查
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}
