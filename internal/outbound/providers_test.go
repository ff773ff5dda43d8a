package outbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProvider_Deliver(t *testing.T) {
	var gotBody string
	var gotTenant, gotAuth string
	status := http.StatusOK

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotTenant = r.Header.Get("X-Tenant-ID")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Job-ID", "job-99")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := NewHTTPProvider("webhook", srv.URL)
	req := Request{
		TenantID:   "t1",
		EventType:  "booking.webhook",
		Payload:    `{"reservation_id":"r1"}`,
		Credential: Credential{Token: "secret"},
	}

	jobID, err := p.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if jobID != "job-99" {
		t.Fatalf("jobID = %q", jobID)
	}
	if gotBody != req.Payload || gotTenant != "t1" || gotAuth != "Bearer secret" {
		t.Fatalf("request not faithful: body=%q tenant=%q auth=%q", gotBody, gotTenant, gotAuth)
	}

	// Non-2xx responses come back tagged with the status-derived class.
	status = http.StatusUnauthorized
	_, err = p.Deliver(context.Background(), req)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Class != ClassAuth {
		t.Fatalf("401 not classed as auth: %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = p.Deliver(context.Background(), req)
	if !errors.As(err, &pe) || pe.Class != ClassTemporary {
		t.Fatalf("503 not classed as temporary: %v", err)
	}
}

func TestHTTPProvider_ConnectionFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens anymore

	p := NewHTTPProvider("webhook", srv.URL)
	_, err := p.Deliver(context.Background(), Request{TenantID: "t1"})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Class != ClassNetwork {
		t.Fatalf("refused connection not classed as network: %v", err)
	}
}

func TestProviderFor(t *testing.T) {
	if _, ok := ProviderFor("messaging", "").(*LogProvider); !ok {
		t.Fatal("empty endpoint should fall back to the log provider")
	}
	if _, ok := ProviderFor("messaging", "https://api.example.com/send").(*HTTPProvider); !ok {
		t.Fatal("configured endpoint should produce the HTTP provider")
	}
}
