package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rooster-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(logger.NewNop()), CORS(logger.NewNop()))
	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func TestCORSHeadersOnRequests(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://example.test")

	newRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	newRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}
