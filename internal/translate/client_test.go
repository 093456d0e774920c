package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestClient_Translate(t *testing.T) {
	var got TranslateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/translate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"translation":"Hi","confidence":0.92,"session_id":"s1","processing_time_ms":12.5,"alternatives":["Hello"]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{TranslationURL: srv.URL})
	resp, err := c.Translate(context.Background(), TranslateRequest{SignSequence: []string{"H", "I"}, SessionID: "s1"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	if resp.Translation != "Hi" || resp.Confidence != 0.92 {
		t.Errorf("response = %+v", resp)
	}
	if !reflect.DeepEqual(resp.Alternatives, []string{"Hello"}) {
		t.Errorf("Alternatives = %v, want [Hello]", resp.Alternatives)
	}

	want := TranslateRequest{SignSequence: []string{"H", "I"}, SessionID: "s1", Language: "en"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("request body = %+v, want %+v", got, want)
	}
}

func TestClient_RequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "detail string", status: http.StatusInternalServerError, body: `{"detail":"model unavailable"}`, wantMsg: "model unavailable"},
		{name: "no detail", status: http.StatusBadGateway, body: `{"error":"x"}`, wantMsg: "HTTP 502"},
		{name: "unreadable body", status: http.StatusServiceUnavailable, body: `<html>`, wantMsg: "Unknown error"},
		{name: "structured detail", status: http.StatusUnprocessableEntity, body: `{"detail":[{"msg":"field required"}]}`, wantMsg: `[{"msg":"field required"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{TranslationURL: srv.URL})
			_, err := c.Translate(context.Background(), TranslateRequest{SignSequence: []string{"A"}})

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("Translate() error = %v, want *RequestError", err)
			}
			if reqErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", reqErr.StatusCode, tt.status)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestClient_SessionEndpoints(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/context/s9":
			w.Write([]byte(`{"session_id":"s9","context":"Hi","history":[{"signs":["H","I"],"translation":"Hi"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/context/s9":
			w.Write([]byte(`{"session_id":"s9","message":"cleared"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{TranslationURL: srv.URL})
	ctx := context.Background()

	sc, err := c.GetContext(ctx, "s9")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if sc.Context != "Hi" || len(sc.History) != 1 || sc.History[0].Translation != "Hi" {
		t.Errorf("GetContext() = %+v", sc)
	}

	cleared, err := c.ClearContext(ctx, "s9")
	if err != nil {
		t.Fatalf("ClearContext() error = %v", err)
	}
	if cleared.Message != "cleared" {
		t.Errorf("ClearContext().Message = %q, want cleared", cleared.Message)
	}

	want := []string{"GET /api/v1/context/s9", "DELETE /api/v1/context/s9"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	if _, err := c.GetContext(ctx, "missing"); err == nil {
		t.Error("GetContext(missing) should fail on 404")
	}
}

func TestClient_Health(t *testing.T) {
	handler := func(path string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != path {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(`{"status":"healthy","services":{"llm":"up"}}`))
		}
	}

	gateway := httptest.NewServer(handler("/api/v1/health"))
	defer gateway.Close()
	detection := httptest.NewServer(handler("/api/v1/health"))
	defer detection.Close()
	llm := httptest.NewServer(handler("/health"))
	defer llm.Close()

	c := NewClient(Config{TranslationURL: llm.URL, GatewayURL: gateway.URL, DetectionURL: detection.URL})
	ctx := context.Background()

	checks := map[string]func(context.Context) (*HealthStatus, error){
		"gateway":     c.GatewayHealth,
		"detection":   c.DetectionHealth,
		"translation": c.TranslationHealth,
	}
	for name, check := range checks {
		h, err := check(ctx)
		if err != nil {
			t.Errorf("%s health error = %v", name, err)
			continue
		}
		if h.Status != "healthy" {
			t.Errorf("%s health status = %q, want healthy", name, h.Status)
		}
	}
}

func TestClient_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow timeout test")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{TranslationURL: srv.URL, Timeout: 50 * time.Millisecond})
	if _, err := c.TranslationHealth(context.Background()); err == nil {
		t.Error("TranslationHealth() should time out")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})

	if c.translationURL != DefaultTranslationURL {
		t.Errorf("translationURL = %q, want %q", c.translationURL, DefaultTranslationURL)
	}
	if c.gatewayURL != DefaultGatewayURL {
		t.Errorf("gatewayURL = %q, want %q", c.gatewayURL, DefaultGatewayURL)
	}
	if c.detectionURL != DefaultDetectionURL {
		t.Errorf("detectionURL = %q, want %q", c.detectionURL, DefaultDetectionURL)
	}
	if c.http.Timeout != 0 {
		t.Errorf("default timeout = %v, want none", c.http.Timeout)
	}
}
