package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	Deliveries.WithLabelValues("post", "posted").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "leaguebot_deliveries_total") {
		t.Fatalf("deliveries counter missing from output")
	}
	// Registering twice must not panic.
	_ = Handler()
}
