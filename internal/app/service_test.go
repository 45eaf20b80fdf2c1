package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/forecast/internal/adapters/repository"
	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
)

var now = time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func value(v float64) *float64 { return &v }

type harness struct {
	svc   *service.Service
	store *repository.MemoryStore
	clock *clockwork.FakeClock
}

func newHarness(ctx context.Context, opts ...service.Option) *harness {
	h := &harness{
		store: repository.NewMemoryStore(ctx),
		clock: clockwork.NewFakeClockAt(now),
	}
	base := []service.Option{
		service.WithWorkerCount(2),
		service.WithQueueSize(1000),
		service.WithStore(h.store),
		service.WithCalibrationStore(h.store),
		service.WithClock(h.clock),
	}
	h.svc = service.New(append(base, opts...)...)
	So(h.svc.Start(ctx), ShouldBeNil)
	return h
}

func (h *harness) close() {
	h.svc.Stop()
	_ = h.store.Close()
}

func onboard(ctx context.Context, svc *service.Service, userID string) {
	_, err := svc.Onboard(ctx, model.Profile{
		UserID:         userID,
		AvgPrice:       300_000,
		SelectedKPIs:   []string{"appointments"},
		WeeklyAverages: map[string]float64{"appointments": 2},
	})
	So(err, ShouldBeNil)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Operations report it is not started", func() {
			_, err := svc.Ingest(ctx, model.ActivityLog{UserID: "u", KPIID: "dials"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Forecast(ctx, "u")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("The catalog is available and sorted", func() {
			kpis := svc.Catalog(ctx)
			So(len(kpis), ShouldBeGreaterThan, 0)
			for i := 1; i < len(kpis); i++ {
				So(kpis[i-1].ID, ShouldBeLessThan, kpis[i].ID)
			}
		})

		Convey("Start and Stop toggle the started flag and can repeat", func() {
			for i := 0; i < 2; i++ {
				So(svc.Start(ctx), ShouldBeNil)
				So(svc.Start(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, true)
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
			}
			svc.Stop()
		})
	})
}

func TestService_Ingest(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.close()

		Convey("Unknown KPIs and missing users are rejected", func() {
			_, err := h.svc.Ingest(ctx, model.ActivityLog{UserID: "u", KPIID: "nope"})
			So(errors.Is(err, service.ErrUnknownKPI), ShouldBeTrue)

			_, err = h.svc.Ingest(ctx, model.ActivityLog{UserID: "  ", KPIID: "dials"})
			So(errors.Is(err, service.ErrInvalidLog), ShouldBeTrue)
		})

		Convey("A missing id is generated", func() {
			r, err := h.svc.Ingest(ctx, model.ActivityLog{UserID: "u", KPIID: "dials"})
			So(err, ShouldBeNil)
			So(r.ID, ShouldNotBeEmpty)
			So(r.Duplicate, ShouldBeFalse)
		})

		Convey("A repeated id is reported as a duplicate", func() {
			l := model.ActivityLog{ID: "l-1", UserID: "u", KPIID: "dials", Timestamp: now}
			r, err := h.svc.Ingest(ctx, l)
			So(err, ShouldBeNil)
			So(r.Duplicate, ShouldBeFalse)

			r, err = h.svc.Ingest(ctx, l)
			So(err, ShouldBeNil)
			So(r.Duplicate, ShouldBeTrue)

			Convey("And the accepted log is eventually stored", func() {
				deadline := time.Now().Add(2 * time.Second)
				var logs []model.ActivityLog
				for time.Now().Before(deadline) {
					logs, _ = h.store.LogsBetween(ctx, "u", time.Time{}, time.Time{})
					if len(logs) == 1 {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(len(logs), ShouldEqual, 1)
				So(logs[0].Category, ShouldEqual, model.CategoryVolume)
				So(logs[0].Effects.Points, ShouldEqual, 0.5)
				So(h.svc.GetStats()["totalLogs"], ShouldEqual, 1)
			})
		})
	})
}

func TestService_ForecastAndCalibration(t *testing.T) {
	Convey("Given an onboarded user", t, func() {
		ctx := context.Background()
		h := newHarness(ctx, service.WithCacheTTL(0))
		defer h.close()
		onboard(ctx, h.svc, "agent-1")

		Convey("Onboarding seeds a neutral multiplier", func() {
			report, err := h.svc.Calibration(ctx, "agent-1")
			So(err, ShouldBeNil)
			So(len(report.States), ShouldEqual, 1)
			So(report.States[0].KPIID, ShouldEqual, "appointments")
			So(report.States[0].Multiplier, ShouldEqual, 1.0)
			So(string(report.States[0].Quality), ShouldEqual, "low")
			So(report.Events, ShouldBeEmpty)
		})

		Convey("Without real logs the forecast runs on the backplot", func() {
			f, err := h.svc.Forecast(ctx, "agent-1")
			So(err, ShouldBeNil)
			So(f.UsingBackplot, ShouldBeTrue)
			So(len(f.Future), ShouldEqual, 12)
			So(len(f.Past), ShouldEqual, 6)
			So(f.PipelineToday, ShouldBeGreaterThan, 0)
			So(f.Confidence.Score, ShouldBeBetweenOrEqual, 0, 100)
		})

		Convey("When a predictive log is processed", func() {
			err := h.svc.Process(ctx, model.ActivityLog{
				ID: "appt-1", UserID: "agent-1", KPIID: "appointments", Timestamp: now.AddDate(0, 0, -40),
			})
			So(err, ShouldBeNil)

			Convey("Its effects are frozen with the current multiplier", func() {
				logs, _ := h.store.LogsBetween(ctx, "agent-1", time.Time{}, time.Time{})
				So(len(logs), ShouldEqual, 1)
				So(logs[0].Effects.PredictiveMagnitude, ShouldEqual, 4800.0)
				So(logs[0].Effects.DelayDays, ShouldEqual, 30)
				So(logs[0].Effects.HoldDays, ShouldEqual, 60)
				So(logs[0].Effects.Multiplier, ShouldEqual, 1.0)
			})

			Convey("The forecast switches to real logs", func() {
				f, err := h.svc.Forecast(ctx, "agent-1")
				So(err, ShouldBeNil)
				So(f.UsingBackplot, ShouldBeFalse)
				So(f.PipelineToday, ShouldEqual, 4800.0)
			})

			Convey("And a deal close is processed", func() {
				err := h.svc.Process(ctx, model.ActivityLog{
					ID: "close-1", UserID: "agent-1", KPIID: "closed", Timestamp: now, Value: value(9600),
				})
				So(err, ShouldBeNil)

				Convey("Then the contributing multiplier moves and an event is recorded", func() {
					report, err := h.svc.Calibration(ctx, "agent-1")
					So(err, ShouldBeNil)
					So(report.States[0].Multiplier, ShouldAlmostEqual, 1.0125, 1e-9)
					So(report.States[0].SampleSize, ShouldEqual, 1)
					So(*report.States[0].RollingErrorRatio, ShouldAlmostEqual, 2.0, 1e-9)
					So(len(report.Events), ShouldEqual, 1)
					So(report.Events[0].PredictedTotal, ShouldEqual, 4800.0)
					So(report.Events[0].ErrorRatio, ShouldEqual, 2.0)
					So(report.Events[0].Attribution.ShareByKPI["appointments"], ShouldEqual, 1.0)
				})

				Convey("Then new logs use the new multiplier and old ones keep theirs", func() {
					So(h.svc.Process(ctx, model.ActivityLog{
						ID: "appt-2", UserID: "agent-1", KPIID: "appointments", Timestamp: now,
					}), ShouldBeNil)
					logs, _ := h.store.LogsBetween(ctx, "agent-1", time.Time{}, time.Time{})
					byID := map[string]model.ActivityLog{}
					for _, l := range logs {
						byID[l.ID] = l
					}
					So(byID["appt-1"].Effects.PredictiveMagnitude, ShouldEqual, 4800.0)
					So(byID["appt-2"].Effects.PredictiveMagnitude, ShouldEqual, 4860.0)
				})

				Convey("Then the past series shows the realized amount", func() {
					f, _ := h.svc.Forecast(ctx, "agent-1")
					So(f.Past[5].Value, ShouldEqual, 9600.0)
				})

				Convey("Then a reset restores the onboarding multipliers", func() {
					states, err := h.svc.ResetCalibration(ctx, "agent-1")
					So(err, ShouldBeNil)
					So(len(states), ShouldEqual, 1)
					report, _ := h.svc.Calibration(ctx, "agent-1")
					So(report.States[0].Multiplier, ShouldEqual, 1.0)
					So(report.States[0].SampleSize, ShouldEqual, 0)
				})
			})
		})

		Convey("Anchors follow the most recent log and deletion", func() {
			So(h.svc.Process(ctx, model.ActivityLog{ID: "p1", UserID: "agent-1", KPIID: "pending", Timestamp: now.Add(-2 * time.Hour), Value: value(3)}), ShouldBeNil)
			So(h.svc.Process(ctx, model.ActivityLog{ID: "p2", UserID: "agent-1", KPIID: "pending", Timestamp: now.Add(-time.Hour), Value: value(5)}), ShouldBeNil)

			anchors, _ := h.store.Anchors(ctx, "agent-1")
			So(len(anchors), ShouldEqual, 1)
			So(anchors[0].Value, ShouldEqual, 5.0)

			removed, err := h.svc.DeleteLog(ctx, "agent-1", "p2")
			So(err, ShouldBeNil)
			So(removed.ID, ShouldEqual, "p2")
			anchors, _ = h.store.Anchors(ctx, "agent-1")
			So(anchors[0].Value, ShouldEqual, 3.0)

			_, err = h.svc.DeleteLog(ctx, "agent-1", "p1")
			So(err, ShouldBeNil)
			anchors, _ = h.store.Anchors(ctx, "agent-1")
			So(anchors, ShouldBeEmpty)

			_, err = h.svc.DeleteLog(ctx, "agent-1", "p1")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})

		Convey("Concurrent deal closes lose no sample-size increments", func() {
			So(h.svc.Process(ctx, model.ActivityLog{
				ID: "appt-1", UserID: "agent-1", KPIID: "appointments", Timestamp: now.AddDate(0, 0, -40),
			}), ShouldBeNil)

			const closes = 20
			var wg sync.WaitGroup
			for i := 0; i < closes; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = h.svc.Process(ctx, model.ActivityLog{
						ID: fmt.Sprintf("close-%d", i), UserID: "agent-1", KPIID: "closed", Timestamp: now, Value: value(4800),
					})
				}(i)
			}
			wg.Wait()

			report, err := h.svc.Calibration(ctx, "agent-1")
			So(err, ShouldBeNil)
			So(report.States[0].SampleSize, ShouldEqual, closes)
			So(len(report.Events), ShouldEqual, closes)
		})
	})
}

func TestService_Onboard(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.close()

		Convey("Invalid profiles are rejected", func() {
			_, err := h.svc.Onboard(ctx, model.Profile{UserID: "u", SelectedKPIs: []string{"nope"}})
			So(errors.Is(err, service.ErrUnknownKPI), ShouldBeTrue)

			_, err = h.svc.Onboard(ctx, model.Profile{UserID: "u", SelectedKPIs: []string{"pending"}})
			So(errors.Is(err, service.ErrInvalidProfile), ShouldBeTrue)

			_, err = h.svc.Onboard(ctx, model.Profile{UserID: "u", AvgPrice: -1})
			So(errors.Is(err, service.ErrInvalidProfile), ShouldBeTrue)
		})

		Convey("Skewed history yields skewed multipliers", func() {
			states, err := h.svc.Onboard(ctx, model.Profile{
				UserID:         "u",
				AvgPrice:       250_000,
				SelectedKPIs:   []string{"appointments", "listings", "appointments"},
				WeeklyAverages: map[string]float64{"appointments": 10, "listings": 1},
			})
			So(err, ShouldBeNil)
			So(len(states), ShouldEqual, 2)
			So(states[0].KPIID, ShouldEqual, "appointments")
			So(states[0].Multiplier, ShouldBeGreaterThan, 1.0)
			So(states[1].Multiplier, ShouldBeLessThan, 1.0)

			Convey("And onboarding again keeps learned states", func() {
				again, err := h.svc.Onboard(ctx, model.Profile{UserID: "u", SelectedKPIs: []string{"appointments"}})
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
			})
		})

		Convey("Resetting a user that never onboarded fails", func() {
			_, err := h.svc.ResetCalibration(ctx, "ghost")
			So(errors.Is(err, service.ErrNotOnboarded), ShouldBeTrue)
		})
	})
}

func TestService_Snapshots(t *testing.T) {
	Convey("Given a user with some activity", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.close()
		So(h.svc.Process(ctx, model.ActivityLog{ID: "d1", UserID: "u", KPIID: "dials", Timestamp: now.AddDate(0, 0, -10)}), ShouldBeNil)

		Convey("A snapshot persists the current confidence", func() {
			snap, err := h.svc.SnapshotConfidence(ctx, "u")
			So(err, ShouldBeNil)
			So(snap.ID, ShouldNotBeEmpty)
			So(snap.TakenAt, ShouldEqual, now)
			So(snap.Result.Components.InactivityDays, ShouldEqual, 10)

			h.clock.Advance(24 * time.Hour)
			_, err = h.svc.SnapshotConfidence(ctx, "u")
			So(err, ShouldBeNil)

			snaps, err := h.svc.Snapshots(ctx, "u", 10)
			So(err, ShouldBeNil)
			So(len(snaps), ShouldEqual, 2)
			So(snaps[0].Result.Components.InactivityDays, ShouldEqual, 11)
		})

		Convey("A non-positive limit is rejected", func() {
			_, err := h.svc.Snapshots(ctx, "u", 0)
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("Forecasts are cached until a write invalidates them", func() {
			first, err := h.svc.Forecast(ctx, "u")
			So(err, ShouldBeNil)
			h.clock.Advance(time.Hour)

			cached, _ := h.svc.Forecast(ctx, "u")
			So(cached.GeneratedAt, ShouldEqual, first.GeneratedAt)

			So(h.svc.Process(ctx, model.ActivityLog{ID: "d2", UserID: "u", KPIID: "dials", Timestamp: now}), ShouldBeNil)
			fresh, _ := h.svc.Forecast(ctx, "u")
			So(fresh.GeneratedAt, ShouldEqual, now.Add(time.Hour))
			So(fresh.MomentumPercent, ShouldBeGreaterThan, 0)
		})
	})
}

// gatedStore parks the next LogsBetween call until released.
type gatedStore struct {
	*repository.MemoryStore
	armed   chan struct{}
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(ctx context.Context) *gatedStore {
	g := &gatedStore{
		MemoryStore: repository.NewMemoryStore(ctx),
		armed:       make(chan struct{}, 1),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	g.armed <- struct{}{}
	return g
}

func (g *gatedStore) LogsBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ActivityLog, error) {
	logs, err := g.MemoryStore.LogsBetween(ctx, userID, from, to)
	select {
	case <-g.armed:
		close(g.entered)
		<-g.release
	default:
	}
	return logs, err
}

func TestService_ForecastCacheRace(t *testing.T) {
	Convey("Given a forecast that reads logs before a concurrent write lands", t, func() {
		ctx := context.Background()
		store := newGatedStore(ctx)
		h := newHarness(ctx, service.WithStore(store), service.WithCalibrationStore(store))
		defer func() {
			h.close()
			_ = store.Close()
		}()

		type result struct {
			f   service.Forecast
			err error
		}
		done := make(chan result, 1)
		go func() {
			f, err := h.svc.Forecast(ctx, "u")
			done <- result{f, err}
		}()
		<-store.entered

		So(h.svc.Process(ctx, model.ActivityLog{
			ID: "close-1", UserID: "u", KPIID: "closed", Timestamp: now, Value: value(5000),
		}), ShouldBeNil)
		close(store.release)

		stale := <-done
		So(stale.err, ShouldBeNil)
		So(stale.f.Past[5].Value, ShouldEqual, 0)

		Convey("The stale result is not cached", func() {
			f, err := h.svc.Forecast(ctx, "u")
			So(err, ShouldBeNil)
			So(f.Past[5].Value, ShouldEqual, 5000.0)
		})
	})
}
