package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_levels(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			log := NewWithOutput(&bytes.Buffer{}, "svc", tt.input, "text")
			assert.Equal(t, tt.want, log.Logger.GetLevel())
		})
	}
}

func TestNew_jsonCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "iptv-catalog", "info", "json")
	log.WithField("source", "panel").Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "iptv-catalog", line["service"])
	assert.Equal(t, "panel", line["source"])
	assert.Equal(t, "hello", line["msg"])
}

func TestAccessLog_requestIDAndNoCredentials(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "svc", "debug", "json")
	h := AccessLog(log, func(*http.Request) string { return "/movie/{username}/{password}/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movie/alice/s3cret/7", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.NotContains(t, buf.String(), "s3cret")
	assert.True(t, strings.Contains(buf.String(), `"status":302`), buf.String())
}

func TestAccessLog_keepsIncomingRequestID(t *testing.T) {
	h := AccessLog(Discard(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}
