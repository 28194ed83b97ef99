package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakePrometheus answers the instant-query API with canned vectors:
// 100 prompt tokens, 50 completion tokens and 3 requests for a single
// claude-sonnet-4-5 model.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.FormValue("query")
		w.Header().Set("Content-Type", "application/json")

		if strings.Contains(query, "group by (model)") {
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"model":"claude-sonnet-4-5"},"value":[1700000000,"1"]}]}}`)
			return
		}

		value := "0"
		switch {
		case strings.Contains(query, `type="prompt"`):
			value = "100"
		case strings.Contains(query, `type="completion"`):
			value = "50"
		case strings.Contains(query, "llm_requests_total"):
			value = "3"
		}
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,%q]}]}}`, value)
	}))
}

func TestGetSessionMetrics(t *testing.T) {
	backend := fakePrometheus(t)
	defer backend.Close()

	svc, err := NewQueryService(backend.URL)
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}

	got, err := svc.GetSessionMetrics(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetSessionMetrics: %v", err)
	}
	if got.PromptTokens != 100 || got.CompletionTokens != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", got.PromptTokens, got.CompletionTokens)
	}
	if got.TotalTokens != 150 {
		t.Errorf("total = %d, want 150", got.TotalTokens)
	}
	if got.Requests != 3 {
		t.Errorf("requests = %d, want 3", got.Requests)
	}
	// 100 prompt tokens at $3/M plus 50 completion tokens at $15/M.
	want := 100.0/1_000_000*3 + 50.0/1_000_000*15
	if math.Abs(got.EstimatedCostUSD-want) > 1e-12 {
		t.Errorf("cost = %g, want %g", got.EstimatedCostUSD, want)
	}
}

func TestGetSessionMetricsByModel(t *testing.T) {
	backend := fakePrometheus(t)
	defer backend.Close()

	svc, err := NewQueryService(backend.URL)
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}

	byModel, err := svc.GetSessionMetricsByModel(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetSessionMetricsByModel: %v", err)
	}
	m, ok := byModel["claude-sonnet-4-5"]
	if !ok {
		t.Fatalf("models = %v, want claude-sonnet-4-5", byModel)
	}
	if m.TotalTokens != 150 {
		t.Errorf("total = %d, want 150", m.TotalTokens)
	}
}

func TestGetSessionMetricsBackendDown(t *testing.T) {
	svc, err := NewQueryService("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}
	if _, err := svc.GetSessionMetrics(context.Background(), "sess-1"); err == nil {
		t.Error("expected error from unreachable backend")
	}
}

func TestEstimateCostFromCatalog(t *testing.T) {
	// claude-sonnet-4-5 is priced at $3/M input, $15/M output.
	got := estimateCost("claude-sonnet-4-5", 1_000_000, 1_000_000)
	if math.Abs(got-18.0) > 1e-9 {
		t.Errorf("cost = %f, want 18.0", got)
	}
}

func TestEstimateCostUnknownModel(t *testing.T) {
	if got := estimateCost("not-a-model", 1_000_000, 1_000_000); got != 0 {
		t.Errorf("cost = %f, want 0 for unknown model", got)
	}
}
