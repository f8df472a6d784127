package pgdocs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestBuildQuery(t *testing.T) {
	sql, args, err := buildQuery("trips", docstore.Query{}.
		Where("driverId", "d1").
		Where("status", "active").
		Order("startTime", true).
		Take(1))
	require.NoError(t, err)
	require.Equal(t,
		`SELECT id, doc FROM documents WHERE collection = $1 AND doc @> $2::jsonb AND doc @> $3::jsonb ORDER BY doc -> $4::text DESC, id ASC LIMIT $5`,
		sql)
	require.Equal(t, []any{"trips", `{"driverId":"d1"}`, `{"status":"active"}`, "startTime", 1}, args)

	sql, args, err = buildQuery("geofences", docstore.Query{})
	require.NoError(t, err)
	require.Equal(t, `SELECT id, doc FROM documents WHERE collection = $1 ORDER BY id ASC`, sql)
	require.Len(t, args, 1)
}

func TestBuildUpdate(t *testing.T) {
	expr, args := buildUpdate(nil, []any{"c", "id", "{}"})
	require.Equal(t, `doc || $3::jsonb`, expr)
	require.Len(t, args, 3)

	expr, args = buildUpdate(map[string]int64{"scanCount": 1}, []any{"c", "id", "{}"})
	require.Equal(t,
		`jsonb_set(doc || $3::jsonb, ARRAY[$4::text], to_jsonb(COALESCE((doc->>$4::text)::numeric, 0) + $5::bigint))`,
		expr)
	require.Equal(t, []any{"c", "id", "{}", "scanCount", int64(1)}, args)
}

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fleettrack_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fleettrack_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGDocs_DocumentFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.Get(ctx, "trips", "t1")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.ErrorIs(t, st.Update(ctx, "trips", "t1", docstore.Doc{"x": 1}), docstore.ErrNotFound)

	require.NoError(t, st.Set(ctx, "trips", "t1", docstore.Doc{"driverId": "d1", "status": "active", "startTime": 100}, docstore.SetOptions{}))
	require.NoError(t, st.Set(ctx, "trips", "t2", docstore.Doc{"driverId": "d1", "status": "completed", "startTime": 50}, docstore.SetOptions{}))
	require.NoError(t, st.Set(ctx, "trips", "t3", docstore.Doc{"driverId": "d2", "status": "active", "startTime": 300}, docstore.SetOptions{}))

	require.NoError(t, st.Set(ctx, "trips", "t1", docstore.Doc{"totalDistance": 12.5}, docstore.SetOptions{Merge: true}))
	d, err := st.Get(ctx, "trips", "t1")
	require.NoError(t, err)
	require.Equal(t, "active", d["status"])
	require.Equal(t, 12.5, d["totalDistance"])

	require.NoError(t, st.Update(ctx, "trips", "t1", docstore.Doc{"status": "completed"}))

	errs := make(chan error, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.Update(ctx, "trips", "t2", docstore.Doc{"views": docstore.Increment(1)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	d, err = st.Get(ctx, "trips", "t2")
	require.NoError(t, err)
	require.Equal(t, 10.0, d["views"])
	require.Equal(t, "completed", d["status"])

	out, err := st.Query(ctx, "trips", docstore.Query{}.Where("driverId", "d1").Order("startTime", true))
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "t1", out[0].ID)
	require.Equal(t, "t2", out[1].ID)

	out, err = st.Query(ctx, "trips", docstore.Query{}.Where("status", "active").Take(5))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "t3", out[0].ID)

	require.NoError(t, st.Set(ctx, "trips", "t3", docstore.Doc{"replaced": true}, docstore.SetOptions{}))
	d, err = st.Get(ctx, "trips", "t3")
	require.NoError(t, err)
	require.Equal(t, docstore.Doc{"replaced": true}, d)
}

func TestPGDocs_SubscribeDoc(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	var mu sync.Mutex
	var last docstore.Snapshot
	unsub, err := st.SubscribeDoc(ctx, "driverLocations", "d1", func(s docstore.Snapshot, _ error) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, st.Set(ctx, "driverLocations", "d1", docstore.Doc{"tripId": "t1"}, docstore.SetOptions{Merge: true}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Exists && last.Data["tripId"] == "t1"
	}, 5*time.Second, 20*time.Millisecond)
}
