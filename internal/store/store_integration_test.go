//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"tz-api/internal/migrate"
	"tz-api/internal/store"
	"tz-api/internal/tzdb"
)

type StoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	st        *store.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tzapi"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = c
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	st, err := store.Open(dsn)
	s.Require().NoError(err)
	s.st = st
	s.db = st.DB()
	s.Require().NoError(migrate.EnsureSchema(ctx, s.db))
	s.Require().NoError(migrate.EnsureSchema(ctx, s.db), "schema creation is idempotent")
}

func (s *StoreSuite) TearDownSuite() {
	if s.st != nil {
		_ = s.st.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *StoreSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, "TRUNCATE _tz_lookup_stats, _tz_stats_daily, _tz_dataset_loads")
	s.Require().NoError(err)
	_, err = s.db.ExecContext(ctx, "UPDATE _tz_stats_total SET total_queries=0, total_visitors=0 WHERE id=1")
	s.Require().NoError(err)
}

func (s *StoreSuite) TestRecordAndTotals() {
	ctx := context.Background()
	s.Require().NoError(s.st.RecordLookups(ctx, 3, map[string]int64{"Europe/Berlin": 2}, true))
	s.Require().NoError(s.st.RecordLookups(ctx, 1, map[string]int64{"Asia/Tokyo": 1}, false))
	s.Require().NoError(s.st.RecordLookups(ctx, 0, map[string]int64{"Asia/Tokyo": 9}, false))

	t, err := s.st.GetTotals(ctx)
	s.Require().NoError(err)
	s.Equal(int64(4), t.Total)
	s.Equal(int64(4), t.Today)
	s.Equal(int64(1), t.TotalVisitors)

	top, err := s.st.TopZones(ctx, 7, 10)
	s.Require().NoError(err)
	s.Equal([]store.ZoneHits{{Zone: "Europe/Berlin", Hits: 2}, {Zone: "Asia/Tokyo", Hits: 1}}, top)
}

func (s *StoreSuite) TestRecordDatasetLoad() {
	ctx := context.Background()
	s.Require().NoError(s.st.RecordDatasetLoad(ctx, tzdb.Info{Path: "data/tzdb/timezones.bin", Polygons: 12, Zones: 3, Bytes: 4096}))
	var n int
	s.Require().NoError(s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM _tz_dataset_loads WHERE polygons=12").Scan(&n))
	s.Equal(1, n)
}
