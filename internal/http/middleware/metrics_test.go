package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/pos-device-bridge/internal/observability"
)

func TestMetrics_RouteLabelsAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/orders/:id", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.POST("/print/heartbeat", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	reqs := observability.HTTPRequests
	baseRoute := testutil.ToFloat64(reqs.WithLabelValues("GET", "/orders/:id", "200"))
	baseMiss := testutil.ToFloat64(reqs.WithLabelValues("GET", "/nope", "404"))
	baseBeat := testutil.ToFloat64(reqs.WithLabelValues("POST", "/print/heartbeat", "204"))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/orders/17", http.StatusOK},
		{http.MethodGet, "/orders/18", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodPost, "/print/heartbeat", http.StatusNoContent},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	if got := testutil.ToFloat64(reqs.WithLabelValues("GET", "/orders/:id", "200")); got != baseRoute+2 {
		t.Fatalf("route counter = %v, want %v (ids must not become labels)", got, baseRoute+2)
	}
	if got := testutil.ToFloat64(reqs.WithLabelValues("GET", "/nope", "404")); got != baseMiss+1 {
		t.Fatalf("fallback counter = %v, want %v", got, baseMiss+1)
	}
	if got := testutil.ToFloat64(reqs.WithLabelValues("POST", "/print/heartbeat", "204")); got != baseBeat+1 {
		t.Fatalf("heartbeat counter = %v, want %v", got, baseBeat+1)
	}
	if inFlight := testutil.ToFloat64(observability.HTTPInFlight); inFlight != 0 {
		t.Fatalf("in-flight = %v, want 0", inFlight)
	}
}
