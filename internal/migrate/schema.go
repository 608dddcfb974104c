package migrate

import (
	"context"
	"database/sql"

	"tz-api/internal/logger"
)

// 背景：首次运行自动创建统计表，服务不依赖外部迁移工具
// 约束：使用 IF NOT EXISTS，重复执行无副作用；只建统计所需的最小结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _tz_stats_total (
            id INT PRIMARY KEY,
            total_queries BIGINT NOT NULL DEFAULT 0,
            total_visitors BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _tz_stats_total(id, total_queries, total_visitors)
         VALUES(1, 0, 0)
         ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS _tz_stats_daily (
            day DATE PRIMARY KEY,
            queries BIGINT NOT NULL DEFAULT 0,
            visitors BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS _tz_lookup_stats (
            zone TEXT NOT NULL,
            day DATE NOT NULL,
            hits BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (zone, day)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_tz_lookup_stats_day ON _tz_lookup_stats(day)`,
		`CREATE TABLE IF NOT EXISTS _tz_dataset_loads (
            id SERIAL PRIMARY KEY,
            path TEXT NOT NULL,
            polygons INT NOT NULL,
            zones INT NOT NULL,
            bytes BIGINT NOT NULL,
            loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
