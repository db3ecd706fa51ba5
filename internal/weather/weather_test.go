package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCurrent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast" {
			t.Errorf("path = %q, want /v1/forecast", r.URL.Path)
		}
		if got := r.URL.Query().Get("current_weather"); got != "true" {
			t.Errorf("current_weather = %q, want true", got)
		}
		w.Write([]byte(`{"current_weather":{"temperature":21.5,"windspeed":12.0,"weathercode":2}}`))
	}))
	defer srv.Close()

	c := New(40.4168, -3.7038, WithBaseURL(srv.URL))
	rep, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if rep.TemperatureC != 21.5 {
		t.Errorf("TemperatureC = %v, want 21.5", rep.TemperatureC)
	}
	if rep.Description() != "parcialmente nublado" {
		t.Errorf("Description = %q, want %q", rep.Description(), "parcialmente nublado")
	}
}

func TestCurrent_RecoverableFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"current_weather":`))
		}},
		{"missing payload", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(0, 0, WithBaseURL(srv.URL))
			if _, err := c.Current(context.Background()); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("Current = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestDescribeCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want string
	}{
		{0, "cielo despejado"},
		{2, "parcialmente nublado"},
		{45, "niebla"},
		{63, "lluvia"},
		{95, "tormenta"},
		{40, "condiciones variables"},
	}
	for _, tt := range tests {
		if got := describeCode(tt.code); got != tt.want {
			t.Errorf("describeCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
