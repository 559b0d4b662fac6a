package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstrumentPreservesHandlerBehavior(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	Instrument(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		log, err := NewLogger(env, "debug")
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", env, err)
		}
		if !log.Core().Enabled(-1) { // debug level
			t.Fatalf("NewLogger(%q): debug not enabled", env)
		}
	}
	if _, err := NewLogger("prod", "nonsense"); err == nil {
		t.Fatal("expected error for bad level")
	}
}
