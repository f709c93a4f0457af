package tasks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bebias/venera-bot/internal/models"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"senderId":"u1"}`)
	sig := Sign("topsecret", body)
	if sig == "" {
		t.Fatal("Expected non-empty signature")
	}

	if err := Verify("topsecret", body, sig); err != nil {
		t.Errorf("Expected valid signature to verify, got %v", err)
	}
	if err := Verify("wrongsecret", body, sig); err == nil {
		t.Error("Expected verification failure with wrong secret")
	}
	if err := Verify("topsecret", []byte(`{"senderId":"u2"}`), sig); err == nil {
		t.Error("Expected verification failure with tampered body")
	}
	if err := Verify("topsecret", body, ""); err == nil {
		t.Error("Expected verification failure with empty signature")
	}
}

func TestPushClientPublishesDelayedCallback(t *testing.T) {
	var gotPath, gotDelay, gotAuth string
	var gotBody models.ResolutionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDelay = r.Header.Get("Upstash-Delay")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode publish body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewPushClient(
		WithBaseURL(srv.URL),
		WithToken("sched-token"),
		WithCallbackURL("https://bot.example.com/internal/burst-resolve"),
	)
	if err != nil {
		t.Fatalf("NewPushClient failed: %v", err)
	}

	if err := client.ScheduleResolution(context.Background(), "u1", 3*time.Second); err != nil {
		t.Fatalf("ScheduleResolution failed: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/v2/publish/") {
		t.Errorf("Expected publish path, got %s", gotPath)
	}
	if gotDelay != "3s" {
		t.Errorf("Expected delay header 3s, got %q", gotDelay)
	}
	if gotAuth != "Bearer sched-token" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotBody.SenderID != "u1" {
		t.Errorf("Expected senderId u1 in payload, got %q", gotBody.SenderID)
	}
}

func TestPushClientReportsRejectedPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewPushClient(
		WithBaseURL(srv.URL),
		WithCallbackURL("https://bot.example.com/internal/burst-resolve"),
	)
	if err != nil {
		t.Fatalf("NewPushClient failed: %v", err)
	}

	if err := client.ScheduleResolution(context.Background(), "u1", time.Second); err == nil {
		t.Error("Expected error when scheduler rejects publish")
	}
}

func TestLocalSchedulerDeliversSignedCallback(t *testing.T) {
	var mu sync.Mutex
	var deliveries []models.ResolutionRequest
	var sigOK bool
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.ResolutionRequest
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read callback body: %v", err)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("Failed to decode callback body: %v", err)
		}
		mu.Lock()
		deliveries = append(deliveries, req)
		sigOK = Verify("topsecret", body, r.Header.Get(SignatureHeader)) == nil
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	sched, err := NewLocalScheduler(
		WithCallbackURL(srv.URL),
		WithSecret("topsecret"),
	)
	if err != nil {
		t.Fatalf("NewLocalScheduler failed: %v", err)
	}
	defer sched.Stop()

	if err := sched.ScheduleResolution(context.Background(), "u1", 10*time.Millisecond); err != nil {
		t.Fatalf("ScheduleResolution failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for callback delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].SenderID != "u1" {
		t.Errorf("Expected senderId u1, got %q", deliveries[0].SenderID)
	}
	if !sigOK {
		t.Error("Expected delivered callback to carry a valid signature")
	}
}

func TestLocalSchedulerStopCancelsPending(t *testing.T) {
	fired := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fired <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sched, err := NewLocalScheduler(WithCallbackURL(srv.URL), WithSecret("s"))
	if err != nil {
		t.Fatalf("NewLocalScheduler failed: %v", err)
	}

	if err := sched.ScheduleResolution(context.Background(), "u1", 200*time.Millisecond); err != nil {
		t.Fatalf("ScheduleResolution failed: %v", err)
	}
	sched.Stop()

	select {
	case <-fired:
		t.Error("Expected no delivery after Stop")
	case <-time.After(400 * time.Millisecond):
	}
}
