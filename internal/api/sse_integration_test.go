package api

import (
	"bufio"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/relayd/internal/events"
)

func sseConnect(t *testing.T, url string) chan string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to connect to SSE: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %s", ct)
	}

	messages := make(chan string, 10)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data:") {
				messages <- line
			}
		}
	}()
	return messages
}

func waitForMessage(t *testing.T, messages chan string, want string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-messages:
			if strings.Contains(msg, want) {
				return
			}
		case <-deadline:
			t.Fatalf("no SSE message containing %q arrived", want)
		}
	}
}

func TestEventStreamDeliversJobEvents(t *testing.T) {
	server, ts := newTestServer(t)

	creds := base64.StdEncoding.EncodeToString([]byte("test:test"))
	messages := sseConnect(t, ts.URL+"/api/events?auth="+creds)

	// Connection hello arrives first
	waitForMessage(t, messages, "SSE connection established")

	server.options.EventBus.Publish(events.JobStartedEvent{
		JobID:       "porch-1",
		Camera:      "porch",
		PID:         4242,
		Destination: "rtmp://a.rtmp.youtube.com/live2/xxxxx",
		Timestamp:   time.Now().Format(time.RFC3339),
	})

	waitForMessage(t, messages, "porch-1")
}

func TestEventStreamDeliversRecoveryEvents(t *testing.T) {
	server, ts := newTestServer(t)

	creds := base64.StdEncoding.EncodeToString([]byte("test:test"))
	messages := sseConnect(t, ts.URL+"/api/events?auth="+creds)
	waitForMessage(t, messages, "SSE connection established")

	server.options.EventBus.Publish(events.RestartScheduledEvent{
		Camera:    "porch",
		Attempt:   2,
		DelayMS:   2000,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	waitForMessage(t, messages, "\"attempt\":2")
}

func TestMetricsStreamDeliversProgress(t *testing.T) {
	server, ts := newTestServer(t)

	// The metrics stream sends nothing until a job reports progress, so
	// keep publishing until the subscriber sees a sample.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				server.options.EventBus.Publish(events.JobProgressEvent{
					EventType: "job-progress",
					JobID:     "porch-1",
					Camera:    "porch",
					Frame:     1200,
					FPS:       30.0,
					Bitrate:   "2500kbits/s",
					OutTime:   "00:00:40.000000",
					Speed:     1.0,
				})
			}
		}
	}()

	creds := base64.StdEncoding.EncodeToString([]byte("test:test"))
	messages := sseConnect(t, ts.URL+"/api/metrics?auth="+creds)
	waitForMessage(t, messages, "porch-1")
}

func TestMetricsStreamRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
