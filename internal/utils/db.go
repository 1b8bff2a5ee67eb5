// 包 utils：数据库、Redis 与 TLS 的环境变量工具
package utils

import (
	"database/sql"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"delivery-zone/internal/logger"
)

// PostgresEnabled：未显式关闭时使用 PostgreSQL；关闭后设置存储退回内存后端
func PostgresEnabled() bool { return os.Getenv("PG_ENABLED") != "false" }

func BuildPostgresDSNFromEnv() string {
	if v := os.Getenv("PG_DSN"); v != "" {
		return v
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "delivery"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func OpenPostgresFromEnv() (*sql.DB, error) {
	dsn := BuildPostgresDSNFromEnv()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := 20
	maxIdle := 10
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxOpen = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxIdle = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	logger.L().Debug("pg_env", "max_open", maxOpen, "max_idle", maxIdle)
	return db, nil
}

// EnvSeconds：读取秒数环境变量，缺省或非法时返回 def
func EnvSeconds(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
