package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorrelationID_MintsAndEchoes(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "cid-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "cid-123", seen)
	assert.Equal(t, "cid-123", rec.Header().Get(CorrelationIDHeader))
}

func TestJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator(`{
	  "type": "object",
	  "additionalProperties": false,
	  "required": ["name"],
	  "properties": {"name": {"type": "string", "minLength": 1}}
	}`)
	require.NoError(t, err)

	h := v.Middleware(okHandler())

	cases := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"name": "ok"}`, http.StatusOK},
		{"missing required", `{}`, http.StatusBadRequest},
		{"wrong type", `{"name": 7}`, http.StatusBadRequest},
		{"unknown field", `{"name": "ok", "x": 1}`, http.StatusBadRequest},
		{"not json", `{{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestBodySizeLimit_OversizedBodyIs413(t *testing.T) {
	v, err := NewJSONSchemaValidator(`{"type": "object"}`)
	require.NoError(t, err)

	h := BodySizeLimit(16)(v.Middleware(okHandler()))

	rec := httptest.NewRecorder()
	body := `{"pad": "` + strings.Repeat("x", 64) + `"}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseCIDRAllowlist(t *testing.T) {
	nets, err := ParseCIDRAllowlist([]string{" 10.0.0.0/8 ", "", "192.168.1.0/24"})
	require.NoError(t, err)
	assert.Len(t, nets, 2)

	_, err = ParseCIDRAllowlist([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestIPAllowlist(t *testing.T) {
	nets, err := ParseCIDRAllowlist([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	h := IPAllowlist(nets)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "203.0.113.9:4444"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Empty allowlist admits everything.
	open := IPAllowlist(nil)(okHandler())
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
