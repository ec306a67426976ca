package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "reuses caller id", incoming: "req-incoming_1.2", keep: true},
		{name: "generates when missing"},
		{name: "replaces id with control characters", incoming: "abc\r\nlevel=ERROR"},
		{name: "replaces overlong id", incoming: strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.incoming != "" {
				req.Header[requestIDHeader] = []string{tc.incoming}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			header := rec.Header().Get(requestIDHeader)
			if header == "" || header != seen {
				t.Fatalf("header %q and context %q must match and be set", header, seen)
			}
			if tc.keep {
				if header != tc.incoming {
					t.Fatalf("request id = %q, want %q", header, tc.incoming)
				}
				return
			}
			if _, err := uuid.Parse(header); err != nil {
				t.Fatalf("expected generated uuid, got %q", header)
			}
		})
	}
}
