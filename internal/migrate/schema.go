package migrate

import (
	"database/sql"

	"delivery-zone/internal/logger"
)

// 背景：首次运行自动创建 settings 表与变更通知触发器
// 约束：全部语句幂等；触发器负载为 {"key","updatedAt"}，频道 settings_changed 与 notify.DefaultPostgresChannel 一致
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE OR REPLACE FUNCTION settings_notify_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('settings_changed', json_build_object('key', NEW.key, 'updatedAt', NEW.updated_at)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS settings_notify_change ON settings`,
		`CREATE TRIGGER settings_notify_change
            AFTER INSERT OR UPDATE ON settings
            FOR EACH ROW EXECUTE FUNCTION settings_notify_change()`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
