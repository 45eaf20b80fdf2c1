package simulate_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/forecast/internal/adapters/http/api"
	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/internal/simulate"
	"github.com/okian/forecast/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		now := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
		cfg := &simulate.Config{Agents: 3, Days: 30, Seed: 42, DupRate: 0.1}
		ds := simulate.Generate(cfg, now)

		Convey("It should be reproducible", func() {
			again := simulate.Generate(cfg, now)
			So(again, ShouldResemble, ds)
		})

		Convey("It should onboard every agent on the predictive KPIs", func() {
			So(ds.Agents, ShouldHaveLength, 3)
			for _, a := range ds.Agents {
				So(a.UserID, ShouldNotBeBlank)
				So(a.AvgPrice, ShouldBeGreaterThanOrEqualTo, 8000)
				So(a.SelectedKPIs, ShouldResemble, []string{"conversations", "appointments", "listings", "offers"})
			}
		})

		Convey("Logs should never be in the future", func() {
			So(ds.Logs, ShouldNotBeEmpty)
			for _, l := range ds.Logs {
				ts, err := time.Parse(time.RFC3339, l.Timestamp)
				So(err, ShouldBeNil)
				So(ts.After(now), ShouldBeFalse)
				So(ts.Before(now.AddDate(0, 0, -31)), ShouldBeFalse)
			}
		})

		Convey("The duplicate tail should repeat earlier ids", func() {
			So(ds.Duplicates, ShouldBeGreaterThan, 0)
			originals := ds.Logs[:len(ds.Logs)-ds.Duplicates]
			ids := make(map[string]bool, len(originals))
			for _, l := range originals {
				So(ids[l.ID], ShouldBeFalse)
				ids[l.ID] = true
			}
			for _, l := range ds.Logs[len(originals):] {
				So(ids[l.ID], ShouldBeTrue)
			}
		})

		Convey("A different seed should produce different users", func() {
			other := simulate.Generate(&simulate.Config{Agents: 3, Days: 30, Seed: 7}, now)
			So(other.Agents[0].UserID, ShouldNotEqual, ds.Agents[0].UserID)
		})
	})
}

func TestRunAgainstService(t *testing.T) {
	Convey("Given a running forecast service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(4), service.WithQueueSize(10_000))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("A simulation should submit, settle and verify", func() {
			cfg := &simulate.Config{
				BaseURL:    srv.URL,
				Agents:     3,
				Days:       60,
				Workers:    4,
				Timeout:    5 * time.Second,
				Settle:     500 * time.Millisecond,
				Seed:       1,
				DupRate:    0.05,
				OutputFile: filepath.Join(t.TempDir(), "dataset.json"),
			}
			So(simulate.Run(ctx, cfg), ShouldBeNil)

			_, err := os.Stat(cfg.OutputFile)
			So(err, ShouldBeNil)

			snaps, err := svc.Snapshots(ctx, simulate.Generate(cfg, time.Now()).Agents[0].UserID, 5)
			So(err, ShouldBeNil)
			So(snaps, ShouldHaveLength, 1)
		})

		Convey("An unreachable service should fail the health check", func() {
			cfg := &simulate.Config{BaseURL: "http://127.0.0.1:1", Workers: 1, Timeout: time.Second}
			So(simulate.Run(ctx, cfg), ShouldNotBeNil)
		})
	})
}
