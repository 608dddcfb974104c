// 包 store：PostgreSQL 统计存储（查询总量、按日、按时区命中、数据集加载记录）
package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	_ "github.com/lib/pq"

	"tz-api/internal/logger"
	"tz-api/internal/tzdb"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open：使用 DSN 打开数据库连接
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// 文档注释：记录一次（或一批）查询
// 参数：hits 为命中时区 → 次数；queries 为查询点数（含未命中）；visitor 为 true 时访客数 +1。
// 约束：单事务提交，失败整体回滚；按时区名排序写入，避免并发事务间死锁。
func (s *Store) RecordLookups(ctx context.Context, queries int64, hits map[string]int64, visitor bool) error {
	if queries <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int64
	if visitor {
		v = 1
	}
	if _, err := tx.ExecContext(ctx, "UPDATE _tz_stats_total SET total_queries=total_queries+$1, total_visitors=total_visitors+$2 WHERE id=1", queries, v); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _tz_stats_daily(day, queries, visitors) VALUES(current_date, $1, $2)
        ON CONFLICT (day) DO UPDATE SET queries=_tz_stats_daily.queries+EXCLUDED.queries, visitors=_tz_stats_daily.visitors+EXCLUDED.visitors`, queries, v); err != nil {
		return err
	}
	zones := make([]string, 0, len(hits))
	for z := range hits {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	for _, z := range zones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO _tz_lookup_stats(zone, day, hits) VALUES($1, current_date, $2)
            ON CONFLICT (zone, day) DO UPDATE SET hits=_tz_lookup_stats.hits+EXCLUDED.hits`, z, hits[z]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Debug("stats_incr", "queries", queries, "zones", len(hits), "visitor", visitor)
	return nil
}

// Totals：累计与当日查询次数
type Totals struct {
	Total         int64 `json:"total"`
	Today         int64 `json:"today"`
	TotalVisitors int64 `json:"total_visitors"`
	TodayVisitors int64 `json:"today_visitors"`
}

func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, "SELECT total_queries, total_visitors FROM _tz_stats_total WHERE id=1").Scan(&t.Total, &t.TotalVisitors)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, "SELECT queries, visitors FROM _tz_stats_daily WHERE day=current_date").Scan(&t.Today, &t.TodayVisitors)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}

// ZoneHits：单个时区的命中次数
type ZoneHits struct {
	Zone string `json:"zone"`
	Hits int64  `json:"hits"`
}

// TopZones 返回最近 days 天命中最多的时区
func (s *Store) TopZones(ctx context.Context, days, limit int) ([]ZoneHits, error) {
	if days <= 0 {
		days = 1
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT zone, SUM(hits) AS h FROM _tz_lookup_stats
        WHERE day > current_date - $1::int
        GROUP BY zone ORDER BY h DESC, zone ASC LIMIT $2`, days, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ZoneHits
	for rows.Next() {
		var z ZoneHits
		if err := rows.Scan(&z.Zone, &z.Hits); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// RecordDatasetLoad 记录一次数据集加载（启动或热替换）
func (s *Store) RecordDatasetLoad(ctx context.Context, info tzdb.Info) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO _tz_dataset_loads(path, polygons, zones, bytes) VALUES($1,$2,$3,$4)",
		info.Path, info.Polygons, info.Zones, info.Bytes)
	return err
}
