package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/barometer/internal/adapters/http/api"
	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/config"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func testBank(t *testing.T) *itembank.Bank {
	t.Helper()
	scale := itembank.Scale{Min: 1, Max: 5}
	bank, err := itembank.New("efqm-test", model.FrameworkEFQM,
		[]itembank.Dimension{
			{ID: "leadership", Weight: 0.5, MinItems: 2},
			{ID: "process", Weight: 0.5, MinItems: 2},
		},
		[]itembank.Item{
			{ID: "l1", DimensionID: "leadership", Scale: scale},
			{ID: "l2", DimensionID: "leadership", Scale: scale},
			{ID: "l3", DimensionID: "leadership", Scale: scale},
			{ID: "p1", DimensionID: "process", Scale: scale},
			{ID: "p2", DimensionID: "process", Scale: scale},
			{ID: "p3", DimensionID: "process", Scale: scale},
			{ID: "rec", Kind: itembank.KindRecommendation},
		})
	if err != nil {
		t.Fatalf("test bank: %v", err)
	}
	return bank
}

// newTestServer starts a service behind the full route table.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.New(context.Background())
	cfg.Server.Partitions = 2
	cfg.Server.QueueSize = 16
	cfg.Sources = config.Sources{}
	cfg.Psychometrics.MinRespondents = 5
	cfg.Scoring.NPQSMinResponses = 5
	cfg.Segment.MinGroupSize = 2

	svc := service.New(
		service.WithConfig(cfg),
		service.WithBanks(testBank(t)),
		service.WithBenchmarks([]benchmark.Record{{
			Sector:    "manufacturing",
			Framework: "EFQM",
			Metric:    benchmark.MetricOverall,
			Percentiles: []benchmark.Point{
				{P: 25, Value: 40}, {P: 50, Value: 50}, {P: 75, Value: 60},
			},
		}}),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc).Register(context.Background(), mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Stop(context.Background())
	})
	return ts
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch x := v.(type) {
		case map[string]any:
			out = x
		case []any:
			out = map[string]any{"items": x}
		}
	}
	return resp, out
}

func respondentsBody(n int) map[string]any {
	rs := make([]map[string]any, n)
	for i := range rs {
		team := "A"
		if i >= n/2 {
			team = "B"
		}
		rs[i] = map[string]any{
			"id":           fmt.Sprintf("r%d", i),
			"demographics": map[string]string{"team": team},
			"started_at":   t0.Format(time.RFC3339),
		}
	}
	return map[string]any{"respondents": rs}
}

// answersBody mirrors the service fixtures: respondent i answers around
// level 2+i%3, leadership one step above process.
func answersBody(batchID string, n int) map[string]any {
	clamp := func(v int) float64 { return float64(max(1, min(5, v))) }
	var out []map[string]any
	for i := 0; i < n; i++ {
		b := 2 + i%3
		values := []struct {
			item string
			v    float64
		}{
			{"l1", clamp(b)}, {"l2", clamp(b + 1)}, {"l3", clamp(b)},
			{"p1", clamp(b - 1)}, {"p2", clamp(b)}, {"p3", clamp(b - 1)},
			{"rec", float64(min(2*b+2, 10))},
		}
		for j, v := range values {
			out = append(out, map[string]any{
				"respondent_id": fmt.Sprintf("r%d", i),
				"item_id":       v.item,
				"value":         v.v,
				"submitted_at":  t0.Add(time.Duration(j+1) * 10 * time.Second).Format(time.RFC3339),
			})
		}
	}
	return map[string]any{"batch_id": batchID, "responses": out}
}

func assessmentBody(id string) map[string]any {
	return map[string]any{
		"id":              id,
		"organization_id": "acme",
		"framework":       "EFQM",
		"sector":          "manufacturing",
		"window_start":    t0.Format(time.RFC3339),
		"window_end":      t0.Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"bank_version":    "efqm-test",
	}
}

func TestAPI_AssessmentLifecycle(t *testing.T) {
	Convey("Given a running engine behind the HTTP API", t, func() {
		ts := newTestServer(t)

		Convey("When an assessment is created", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments", assessmentBody("a1"))

			Convey("Then it is stored and readable", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(body["id"], ShouldEqual, "a1")

				resp, body = do(t, http.MethodGet, ts.URL+"/assessments/a1", nil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["organization_id"], ShouldEqual, "acme")
			})

			Convey("Then creating it again conflicts", func() {
				resp, body := do(t, http.MethodPost, ts.URL+"/assessments", assessmentBody("a1"))
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)
				So(body["code"], ShouldEqual, "conflict")
			})
		})

		Convey("When the body is malformed", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments", `{"organization_id":`)

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(body["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When the body carries unknown fields", func() {
			b := assessmentBody("a2")
			b["colour"] = "blue"
			resp, _ := do(t, http.MethodPost, ts.URL+"/assessments", b)

			Convey("Then it is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the bank is unknown", func() {
			b := assessmentBody("a3")
			b["bank_version"] = "missing"
			resp, _ := do(t, http.MethodPost, ts.URL+"/assessments", b)

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When reading an unknown assessment", func() {
			resp, body := do(t, http.MethodGet, ts.URL+"/assessments/nope/scores", nil)

			Convey("Then it is not found", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
				So(body["code"], ShouldEqual, "not_found")
			})
		})
	})
}

func TestAPI_ResponsesAndReports(t *testing.T) {
	Convey("Given an assessment with nine registered respondents", t, func() {
		ts := newTestServer(t)
		resp, _ := do(t, http.MethodPost, ts.URL+"/assessments", assessmentBody("a1"))
		So(resp.StatusCode, ShouldEqual, http.StatusCreated)
		resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/respondents", respondentsBody(9))
		So(resp.StatusCode, ShouldEqual, http.StatusCreated)
		So(body["registered"], ShouldEqual, 9.0)

		Convey("When answers are submitted synchronously", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses?wait=true", answersBody("b1", 9))

			Convey("Then every answer is screened in", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "screened")
				So(body["accepted"], ShouldEqual, 63.0)
				So(body["rejections"], ShouldBeEmpty)
			})

			Convey("Then the scores are served", func() {
				resp, body := do(t, http.MethodGet, ts.URL+"/assessments/a1/scores", nil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["overall"], ShouldAlmostEqual, 137.5/3, 1e-9)
				So(body["dimensions"], ShouldHaveLength, 2)
			})

			Convey("Then every read-out is available", func() {
				for _, path := range []string{"validation", "segments", "benchmark", "clusters", "live", "rejections"} {
					resp, _ := do(t, http.MethodGet, ts.URL+"/assessments/a1/"+path, nil)
					So(resp.StatusCode, ShouldEqual, http.StatusOK)
				}
			})

			Convey("Then the organization's trend report lists the cycle", func() {
				resp, body := do(t, http.MethodGet, ts.URL+"/organizations/acme/trends", nil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["cycles"], ShouldEqual, 1.0)
				So(body["dimensions"], ShouldHaveLength, 2)
				overall := body["overall"].(map[string]any)
				So(overall["direction"], ShouldEqual, "undetermined")
			})

			Convey("Then a repeated batch id is acknowledged as a duplicate", func() {
				resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses", answersBody("b1", 9))
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "duplicate")
				So(body["duplicate"], ShouldBeTrue)
			})
		})

		Convey("When answers are submitted asynchronously", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses", answersBody("b2", 3))

			Convey("Then the batch is accepted for processing", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(body["status"], ShouldEqual, "accepted")
				So(body["responses"], ShouldEqual, 21.0)
			})
		})

		Convey("When a response has no item", func() {
			b := map[string]any{"responses": []map[string]any{{"respondent_id": "r0", "value": 3}}}
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses", b)

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(body["message"], ShouldContainSubstring, "item_id")
			})
		})

		Convey("When the wait flag is not a boolean", func() {
			resp, _ := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses?wait=maybe", answersBody("b3", 1))

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestAPI_ImprovementLoop(t *testing.T) {
	Convey("Given a scored assessment", t, func() {
		ts := newTestServer(t)
		do(t, http.MethodPost, ts.URL+"/assessments", assessmentBody("a1"))
		do(t, http.MethodPost, ts.URL+"/assessments/a1/respondents", respondentsBody(9))
		resp, _ := do(t, http.MethodPost, ts.URL+"/assessments/a1/responses?wait=true", answersBody("b1", 9))
		So(resp.StatusCode, ShouldEqual, http.StatusOK)

		Convey("When planning", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/assessments/a1/plan", nil)

			Convey("Then both dimensions get an action", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				items := body["items"].([]any)
				So(items, ShouldHaveLength, 2)

				id := items[0].(map[string]any)["id"].(string)
				resp, action := do(t, http.MethodPost, ts.URL+"/actions/"+id+"/events",
					map[string]any{"type": "progress", "percent": 40})
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(action["state"], ShouldEqual, "InProgress")

				resp, action = do(t, http.MethodGet, ts.URL+"/actions/"+id, nil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(action["progress"], ShouldEqual, 40.0)

				resp, list := do(t, http.MethodGet, ts.URL+"/actions?organization=acme", nil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(list["actions"], ShouldHaveLength, 2)
			})

			Convey("Then concluding a planned action is an invalid transition", func() {
				items := body["items"].([]any)
				id := items[0].(map[string]any)["id"].(string)
				resp, body := do(t, http.MethodPost, ts.URL+"/actions/"+id+"/events", map[string]any{"type": "conclude"})
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)
				So(body["code"], ShouldEqual, "invalid_transition")
			})
		})

		Convey("When listing actions without an organization", func() {
			resp, _ := do(t, http.MethodGet, ts.URL+"/actions", nil)

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When sending an unknown event type", func() {
			resp, body := do(t, http.MethodPost, ts.URL+"/actions/x/events", map[string]any{"type": "teleport"})

			Convey("Then it is a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(body["message"], ShouldContainSubstring, "teleport")
			})
		})

		Convey("When reading an unknown action", func() {
			resp, _ := do(t, http.MethodGet, ts.URL+"/actions/missing", nil)

			Convey("Then it is not found", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

// stubDeps fails intake with a fixed error; other calls are not expected.
type stubDeps struct {
	api.Dependencies
	err error
}

func (s stubDeps) Submit(context.Context, model.Batch) (service.Receipt, error) {
	return service.Receipt{}, s.err
}

func (s stubDeps) GetStats(context.Context) map[string]interface{} {
	return map[string]interface{}{"started": true, "queueLength": 3}
}

func TestAPI_ErrorMapping(t *testing.T) {
	Convey("Given handlers over a failing engine", t, func() {
		cases := []struct {
			err    error
			status int
		}{
			{fmt.Errorf("enqueue: %w", service.ErrBackpressure), http.StatusTooManyRequests},
			{service.ErrBatchTooLarge, http.StatusRequestEntityTooLarge},
			{service.ErrNotStarted, http.StatusServiceUnavailable},
			{errors.New("disk on fire"), http.StatusInternalServerError},
		}
		for _, c := range cases {
			mux := http.NewServeMux()
			api.NewServer(stubDeps{err: c.err}).Register(context.Background(), mux)

			rec := httptest.NewRecorder()
			raw, _ := json.Marshal(answersBody("b1", 1))
			req := httptest.NewRequest(http.MethodPost, "/assessments/a1/responses", bytes.NewReader(raw))
			mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, c.status)
		}
	})

	Convey("Given the stats endpoint", t, func() {
		mux := http.NewServeMux()
		api.NewServer(stubDeps{}).Register(context.Background(), mux)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

		Convey("Then it returns the provider's statistics", func() {
			So(rec.Code, ShouldEqual, http.StatusOK)
			var out map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &out), ShouldBeNil)
			So(out["started"], ShouldBeTrue)
			So(out["queueLength"], ShouldEqual, 3.0)
			So(out, ShouldContainKey, "uptimeSeconds")
		})
	})

	Convey("Given the health endpoint", t, func() {
		mux := http.NewServeMux()
		api.NewServer(stubDeps{}).Register(context.Background(), mux)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		Convey("Then it serves the metrics registry", func() {
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})

	Convey("Given a request with and without a request id", t, func() {
		mux := http.NewServeMux()
		api.NewServer(stubDeps{}).Register(context.Background(), mux)

		plain := httptest.NewRecorder()
		mux.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/stats", nil))

		tagged := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.Header.Set(api.RequestIDHeader, "survey-42")
		mux.ServeHTTP(tagged, req)

		Convey("Then one is generated or the client's is echoed", func() {
			So(plain.Header().Get(api.RequestIDHeader), ShouldNotBeEmpty)
			So(tagged.Header().Get(api.RequestIDHeader), ShouldEqual, "survey-42")
		})
	})
}
