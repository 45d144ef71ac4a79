package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestMetrics_CountsByRouteTemplate(t *testing.T) {
	r := newEngine(Metrics())

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ok/:id", "200"))
	serve(r, http.MethodGet, "/ok/1")
	serve(r, http.MethodGet, "/ok/2")
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ok/:id", "200"))
	assert.Equal(t, 2.0, after-before)

	before = testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))
	serve(r, http.MethodGet, "/nowhere")
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))-before)
}

func TestRequestLogger_Levels(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	r := newEngine(RequestLogger())
	serve(r, http.MethodGet, "/ok/1")
	assert.Empty(t, buf.String(), "successful requests log at debug")

	serve(r, http.MethodGet, "/boom")
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"status":500`)
}

func TestCORS(t *testing.T) {
	r := newEngine(CORS())

	w := serve(r, http.MethodOptions, "/ok/1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/ok/1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
