package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/forecast/internal/adapters/http/api"
	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeDeps records calls and returns canned results.
type fakeDeps struct {
	ingested  []model.ActivityLog
	ingestErr error
	duplicate bool

	deleted   []string
	deleteErr error

	forecast    service.Forecast
	forecastErr error

	snapshots   []model.ConfidenceSnapshot
	snapLimit   int
	snapshotErr error

	profiles []model.Profile
	states   []model.CalibrationState
	calErr   error
}

func (f *fakeDeps) Ingest(_ context.Context, l model.ActivityLog) (service.Receipt, error) {
	if f.ingestErr != nil {
		return service.Receipt{}, f.ingestErr
	}
	f.ingested = append(f.ingested, l)
	id := l.ID
	if id == "" {
		id = "generated"
	}
	return service.Receipt{ID: id, Duplicate: f.duplicate}, nil
}

func (f *fakeDeps) DeleteLog(_ context.Context, userID, logID string) (model.ActivityLog, error) {
	if f.deleteErr != nil {
		return model.ActivityLog{}, f.deleteErr
	}
	f.deleted = append(f.deleted, userID+"/"+logID)
	return model.ActivityLog{ID: logID, UserID: userID, KPIID: "calls"}, nil
}

func (f *fakeDeps) Forecast(_ context.Context, userID string) (service.Forecast, error) {
	if f.forecastErr != nil {
		return service.Forecast{}, f.forecastErr
	}
	out := f.forecast
	out.UserID = userID
	return out, nil
}

func (f *fakeDeps) SnapshotConfidence(_ context.Context, userID string) (model.ConfidenceSnapshot, error) {
	if f.snapshotErr != nil {
		return model.ConfidenceSnapshot{}, f.snapshotErr
	}
	snap := model.ConfidenceSnapshot{ID: "snap-1", UserID: userID, Result: model.ConfidenceResult{Score: 55}}
	f.snapshots = append(f.snapshots, snap)
	return snap, nil
}

func (f *fakeDeps) Snapshots(_ context.Context, _ string, limit int) ([]model.ConfidenceSnapshot, error) {
	f.snapLimit = limit
	return f.snapshots, f.snapshotErr
}

func (f *fakeDeps) Onboard(_ context.Context, p model.Profile) ([]model.CalibrationState, error) {
	if f.calErr != nil {
		return nil, f.calErr
	}
	f.profiles = append(f.profiles, p)
	out := make([]model.CalibrationState, 0, len(p.SelectedKPIs))
	for _, k := range p.SelectedKPIs {
		out = append(out, model.NewCalibrationState(p.UserID, k))
	}
	f.states = out
	return out, nil
}

func (f *fakeDeps) Calibration(_ context.Context, userID string) (service.CalibrationReport, error) {
	if f.calErr != nil {
		return service.CalibrationReport{}, f.calErr
	}
	report := service.CalibrationReport{UserID: userID, Events: []model.CalibrationEvent{}}
	for _, st := range f.states {
		report.States = append(report.States, service.CalibrationView{CalibrationState: st})
	}
	return report, nil
}

func (f *fakeDeps) ResetCalibration(_ context.Context, _ string) ([]model.CalibrationState, error) {
	return f.states, f.calErr
}

func (f *fakeDeps) Catalog(context.Context) []model.KPIDefinition {
	return []model.KPIDefinition{
		{ID: "calls", Category: model.CategoryVolume},
		{ID: "deal_closed", Category: model.CategoryRealized},
	}
}

type fakeStats struct{}

func (fakeStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "queueLength": 3}
}

func newTestMux(deps *fakeDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, fakeStats{}).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(rec *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given the API server", t, func() {
		mux := newTestMux(&fakeDeps{})

		Convey("healthz should report ok", func() {
			rec := do(mux, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("metrics should expose the prometheus registry", func() {
			do(mux, http.MethodGet, "/healthz", "")
			rec := do(mux, http.MethodGet, "/metrics", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("stats should render the provider's map", func() {
			rec := do(mux, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var stats map[string]interface{}
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
			So(stats["queueLength"], ShouldEqual, 3.0)
		})

		Convey("a wrong method should not be routed", func() {
			rec := do(mux, http.MethodPost, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestPostLog(t *testing.T) {
	Convey("Given the logs endpoint", t, func() {
		deps := &fakeDeps{}
		mux := newTestMux(deps)

		Convey("a valid log should be accepted", func() {
			rec := do(mux, http.MethodPost, "/v1/logs",
				`{"id":"l1","user_id":"u1","kpi_id":"calls","timestamp":"2025-06-18T12:00:00Z","value":3}`)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(rec.Body.String(), ShouldContainSubstring, `"accepted"`)
			So(deps.ingested, ShouldHaveLength, 1)

			got := deps.ingested[0]
			So(got.UserID, ShouldEqual, "u1")
			So(got.KPIID, ShouldEqual, "calls")
			So(got.Timestamp.Equal(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(*got.Value, ShouldEqual, 3)
		})

		Convey("a log without timestamp or value should pass both as zero", func() {
			rec := do(mux, http.MethodPost, "/v1/logs", `{"user_id":"u1","kpi_id":"calls"}`)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(deps.ingested[0].Timestamp.IsZero(), ShouldBeTrue)
			So(deps.ingested[0].Value, ShouldBeNil)
		})

		Convey("a duplicate should be acknowledged with 200", func() {
			deps.duplicate = true
			rec := do(mux, http.MethodPost, "/v1/logs", `{"id":"l1","user_id":"u1","kpi_id":"calls"}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"duplicate":true`)
		})

		Convey("malformed requests should be rejected", func() {
			cases := []struct {
				name string
				body string
			}{
				{"invalid json", `{`},
				{"missing user", `{"kpi_id":"calls"}`},
				{"missing kpi", `{"user_id":"u1"}`},
				{"bad timestamp", `{"user_id":"u1","kpi_id":"calls","timestamp":"yesterday"}`},
			}
			for _, tc := range cases {
				rec := do(mux, http.MethodPost, "/v1/logs", tc.body)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(rec)["code"], ShouldEqual, "bad_request")
			}
			So(deps.ingested, ShouldBeEmpty)
		})

		Convey("service errors should map to their status", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{fmt.Errorf("x: %w", service.ErrUnknownKPI), http.StatusBadRequest, "unknown_kpi"},
				{fmt.Errorf("x: %w", service.ErrInvalidLog), http.StatusBadRequest, "bad_request"},
				{fmt.Errorf("x: %w", service.ErrBackpressure), http.StatusTooManyRequests, "backpressure"},
				{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable"},
				{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
			}
			for _, tc := range cases {
				deps.ingestErr = tc.err
				rec := do(mux, http.MethodPost, "/v1/logs", `{"user_id":"u1","kpi_id":"calls"}`)
				So(rec.Code, ShouldEqual, tc.status)
				So(decodeError(rec)["code"], ShouldEqual, tc.code)
			}
		})

		Convey("internal error details should stay out of the response", func() {
			deps.ingestErr = fmt.Errorf("append log: pq: relation \"activity_logs\" does not exist")
			rec := do(mux, http.MethodPost, "/v1/logs", `{"user_id":"u1","kpi_id":"calls"}`)
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeError(rec)["message"], ShouldEqual, http.StatusText(http.StatusInternalServerError))
			So(rec.Body.String(), ShouldNotContainSubstring, "activity_logs")
		})
	})
}

func TestDeleteLog(t *testing.T) {
	Convey("Given the delete endpoint", t, func() {
		deps := &fakeDeps{}
		mux := newTestMux(deps)

		Convey("path values should reach the service", func() {
			rec := do(mux, http.MethodDelete, "/v1/users/u1/logs/l9", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.deleted, ShouldResemble, []string{"u1/l9"})
		})

		Convey("a missing log should be 404", func() {
			deps.deleteErr = fmt.Errorf("log l9: %w", service.ErrNotFound)
			rec := do(mux, http.MethodDelete, "/v1/users/u1/logs/l9", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(rec)["code"], ShouldEqual, "not_found")
		})
	})
}

func TestForecastEndpoint(t *testing.T) {
	Convey("Given the forecast endpoint", t, func() {
		deps := &fakeDeps{forecast: service.Forecast{PipelineToday: 1200, UsingBackplot: true}}
		mux := newTestMux(deps)

		Convey("it should render the user's forecast", func() {
			rec := do(mux, http.MethodGet, "/v1/users/u7/forecast", "")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var f service.Forecast
			So(json.Unmarshal(rec.Body.Bytes(), &f), ShouldBeNil)
			So(f.UserID, ShouldEqual, "u7")
			So(f.PipelineToday, ShouldEqual, 1200)
			So(f.UsingBackplot, ShouldBeTrue)
		})

		Convey("a stopped service should be 503", func() {
			deps.forecastErr = service.ErrNotStarted
			rec := do(mux, http.MethodGet, "/v1/users/u7/forecast", "")
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestSnapshotEndpoints(t *testing.T) {
	Convey("Given the snapshot endpoints", t, func() {
		deps := &fakeDeps{}
		mux := newTestMux(deps)

		Convey("POST should create a snapshot", func() {
			rec := do(mux, http.MethodPost, "/v1/users/u1/confidence-snapshots", "")
			So(rec.Code, ShouldEqual, http.StatusCreated)
			So(rec.Body.String(), ShouldContainSubstring, `"snap-1"`)
		})

		Convey("GET should default the limit", func() {
			rec := do(mux, http.MethodGet, "/v1/users/u1/confidence-snapshots", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(rec.Body.String()), ShouldEqual, "[]")
			So(deps.snapLimit, ShouldEqual, 20)
		})

		Convey("GET should honor an explicit limit", func() {
			do(mux, http.MethodPost, "/v1/users/u1/confidence-snapshots", "")
			rec := do(mux, http.MethodGet, "/v1/users/u1/confidence-snapshots?limit=5", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.snapLimit, ShouldEqual, 5)

			var snaps []model.ConfidenceSnapshot
			So(json.Unmarshal(rec.Body.Bytes(), &snaps), ShouldBeNil)
			So(snaps, ShouldHaveLength, 1)
		})

		Convey("invalid limits should be rejected", func() {
			for _, q := range []string{"0", "-1", "abc", "501"} {
				rec := do(mux, http.MethodGet, "/v1/users/u1/confidence-snapshots?limit="+q, "")
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func TestCalibrationEndpoints(t *testing.T) {
	Convey("Given the calibration endpoints", t, func() {
		deps := &fakeDeps{}
		mux := newTestMux(deps)

		Convey("onboarding should pass the profile with the path user", func() {
			rec := do(mux, http.MethodPost, "/v1/users/u1/onboarding",
				`{"avg_price":12000,"selected_kpis":["appointments"],"weekly_averages":{"appointments":4}}`)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			So(deps.profiles, ShouldHaveLength, 1)
			So(deps.profiles[0].UserID, ShouldEqual, "u1")
			So(deps.profiles[0].AvgPrice, ShouldEqual, 12000)
			So(deps.profiles[0].WeeklyAverages["appointments"], ShouldEqual, 4)
			So(rec.Body.String(), ShouldContainSubstring, `"appointments"`)

			Convey("and the report should list the seeded state", func() {
				rec := do(mux, http.MethodGet, "/v1/users/u1/calibration", "")
				So(rec.Code, ShouldEqual, http.StatusOK)

				var report service.CalibrationReport
				So(json.Unmarshal(rec.Body.Bytes(), &report), ShouldBeNil)
				So(report.States, ShouldHaveLength, 1)
				So(report.States[0].Multiplier, ShouldEqual, 1)
			})
		})

		Convey("a malformed onboarding body should be 400", func() {
			rec := do(mux, http.MethodPost, "/v1/users/u1/onboarding", `[]`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("an invalid profile should be 400", func() {
			deps.calErr = fmt.Errorf("%w: avg_price must not be negative", service.ErrInvalidProfile)
			rec := do(mux, http.MethodPost, "/v1/users/u1/onboarding", `{"avg_price":-1}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("reset without onboarding should be 404", func() {
			deps.calErr = fmt.Errorf("user u1: %w", service.ErrNotOnboarded)
			rec := do(mux, http.MethodPost, "/v1/users/u1/calibration/reset", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("reset should return an empty list rather than null", func() {
			rec := do(mux, http.MethodPost, "/v1/users/u1/calibration/reset", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"states":[]`)
		})
	})
}

func TestCatalogEndpoint(t *testing.T) {
	Convey("The catalog endpoint should list every KPI", t, func() {
		rec := do(newTestMux(&fakeDeps{}), http.MethodGet, "/v1/kpis", "")
		So(rec.Code, ShouldEqual, http.StatusOK)

		var defs []model.KPIDefinition
		So(json.Unmarshal(rec.Body.Bytes(), &defs), ShouldBeNil)
		So(defs, ShouldHaveLength, 2)
	})
}

func TestErrorWrapping(t *testing.T) {
	Convey("Wrap should keep the first classification", t, func() {
		So(api.Wrap("op", nil), ShouldBeNil)

		inner := api.NewKind("inner", api.ErrBadRequest)
		So(api.Wrap("outer", inner), ShouldEqual, inner)

		err := api.Wrap("op", fmt.Errorf("x: %w", service.ErrBackpressure))
		So(err.Error(), ShouldStartWith, "op: backpressure")
	})
}
