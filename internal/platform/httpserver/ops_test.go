package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"concytec/pkg/testutil"
)

func TestOpsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "concytec_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	var redisDown bool
	router := NewOpsRouter(reg,
		Check{Name: "postgres", Fn: func(context.Context) error { return nil }},
		Check{Name: "redis", Fn: func(context.Context) error {
			if redisDown {
				return errors.New("connection refused")
			}
			return nil
		}},
	)

	testutil.AssertStatus(t, testutil.Get(router, "/healthz"), http.StatusOK)

	rec := testutil.Get(router, "/readyz")
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, testutil.UnmarshalResponse[map[string]string](t, rec))

	redisDown = true
	rec = testutil.Get(router, "/readyz")
	testutil.AssertStatus(t, rec, http.StatusServiceUnavailable)
	assert.JSONEq(t, `{"postgres":"ok","redis":"connection refused"}`, rec.Body.String())

	rec = testutil.Get(router, "/metrics")
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.True(t, strings.Contains(rec.Body.String(), "concytec_test_total 1"))
}
