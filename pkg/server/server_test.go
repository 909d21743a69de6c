package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidemarkhq/gastitch/pkg/daterange"
	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/pipeline"
	"github.com/tidemarkhq/gastitch/pkg/plan"
	"github.com/tidemarkhq/gastitch/pkg/schema"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
	gstest "github.com/tidemarkhq/gastitch/pkg/testing"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, spec plan.BatchSpec, r daterange.Range, filter string) ([]stitch.Row, error) {
	return nil, nil
}

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	dim := schema.Dimension{Name: "ga:dimension1", Label: "User ID"}
	p, err := plan.Build(schema.Schema{
		Stitch:  schema.DimensionGroup{Role: schema.GroupStitch, Dims: []schema.Dimension{dim}},
		Users:   schema.DimensionGroup{Role: schema.GroupUser, Dims: []schema.Dimension{dim}},
		Results: schema.DimensionGroup{Role: schema.GroupResults, Dims: []schema.Dimension{dim}},
	})
	require.NoError(t, err)

	pl, err := pipeline.New(&pipeline.Config{
		Logger:  gstest.NewLogger(),
		Fetcher: stubFetcher{},
		Plan:    p,
		Mode:    pipeline.ModeValidate,
	})
	require.NoError(t, err)
	return pl
}

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:      gstest.NewLogger(),
		ListenAddr:  "127.0.0.1:0",
		VersionInfo: VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "2024-01-01"},
		Pipeline:    testPipeline(t),
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGastitch_Server_Endpoints(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()

		rec := get(t, testServer(t), "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok\n", rec.Body.String())
	})

	t.Run("status reports the run snapshot", func(t *testing.T) {
		t.Parallel()

		s := testServer(t)
		rec := get(t, s, "/status")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var status pipeline.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		require.Equal(t, s.pipeline.RunID().String(), status.RunID)
		require.Equal(t, pipeline.StatePending, status.State)
		require.Equal(t, pipeline.StatePending, status.Batches["users"])
		require.Equal(t, pipeline.StatePending, status.Batches["results"])
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()

		rec := get(t, testServer(t), "/version")
		require.Equal(t, http.StatusOK, rec.Code)

		var v VersionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		require.Equal(t, VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "2024-01-01"}, v)
	})

	t.Run("metrics", func(t *testing.T) {
		t.Parallel()

		metrics.BuildInfo.WithLabelValues("1.2.3", "abc123", "2024-01-01").Set(1)

		rec := get(t, testServer(t), "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "gastitch_build_info")
	})

	t.Run("unknown path", func(t *testing.T) {
		t.Parallel()

		rec := get(t, testServer(t), "/nope")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGastitch_Server_Run(t *testing.T) {
	t.Parallel()

	t.Run("shuts down when the context is cancelled", func(t *testing.T) {
		t.Parallel()

		s := testServer(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})

	t.Run("reports listen failures", func(t *testing.T) {
		t.Parallel()

		// Occupy a port so the server cannot bind it.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		s, err := New(Config{
			Logger:     gstest.NewLogger(),
			ListenAddr: ln.Addr().String(),
			Pipeline:   testPipeline(t),
		})
		require.NoError(t, err)

		err = s.Run(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to listen and serve")
	})
}

func TestGastitch_Server_Config(t *testing.T) {
	t.Parallel()

	t.Run("requires a pipeline", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Logger: gstest.NewLogger(), ListenAddr: "127.0.0.1:0"})
		require.Error(t, err)
	})

	t.Run("requires a listen address", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Logger: gstest.NewLogger(), Pipeline: testPipeline(t)})
		require.Error(t, err)
	})

	t.Run("accepts zero timeouts", func(t *testing.T) {
		t.Parallel()

		cfg := Config{Logger: gstest.NewLogger(), ListenAddr: "127.0.0.1:0", Pipeline: testPipeline(t)}
		_, err := New(cfg)
		require.NoError(t, err)
	})
}
