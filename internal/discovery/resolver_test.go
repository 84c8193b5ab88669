package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
)

func testCamera() cameras.CameraConfig {
	return cameras.CameraConfig{
		Name:     "porch",
		Host:     "10.0.0.8",
		Username: "admin",
		Password: "secret",
		Path:     "h264",
	}
}

// fakeProbe records probed URIs and answers from a canned table.
type fakeProbe struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]probeResult
}

func (f *fakeProbe) probe(_ context.Context, uri string, _ time.Duration) (probeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, uri)
	f.mu.Unlock()
	if res, ok := f.answers[uri]; ok {
		return res, nil
	}
	return probeResult{}, errors.New("connection refused")
}

func (f *fakeProbe) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestResolveStandardPath(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {hasAudio: true},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	res, err := resolver.Resolve(context.Background(), cam)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Capability != CapabilityStandard {
		t.Errorf("Expected standard capability, got %s", res.Capability)
	}
	if res.URI != cam.RTSPURL() {
		t.Errorf("Expected URI %s, got %s", cam.RTSPURL(), res.URI)
	}
	if !res.HasAudio {
		t.Error("Expected audio track to be reported")
	}
	if fake.callCount() != 1 {
		t.Errorf("Expected 1 probe, got %d", fake.callCount())
	}
}

func TestResolveLegacyFallback(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		legacyURI(cam): {hasAudio: false},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	res, err := resolver.Resolve(context.Background(), cam)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Capability != CapabilityLegacy {
		t.Errorf("Expected legacy capability, got %s", res.Capability)
	}
	if !strings.HasSuffix(res.URI, "/live.sdp") {
		t.Errorf("Expected live.sdp URI, got %s", res.URI)
	}
	if res.HasAudio {
		t.Error("Expected no audio track")
	}
	if fake.callCount() != 2 {
		t.Errorf("Expected 2 probes (standard then legacy), got %d", fake.callCount())
	}
}

func TestResolveUnsupported(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{}}
	resolver := NewResolver(withProbe(fake.probe))

	_, err := resolver.Resolve(context.Background(), cam)
	if err == nil {
		t.Fatal("Expected error for unreachable camera")
	}
	if fake.callCount() != 2 {
		t.Errorf("Expected 2 probes, got %d", fake.callCount())
	}

	// The negative outcome is cached too. A second resolve must not
	// hammer an unreachable camera again.
	_, err = resolver.Resolve(context.Background(), cam)
	if err == nil {
		t.Fatal("Expected cached failure to error")
	}
	if fake.callCount() != 2 {
		t.Errorf("Expected no re-probe, got %d probes", fake.callCount())
	}
}

func TestResolveCachesOutcome(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {hasAudio: true},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	for range 5 {
		if _, err := resolver.Resolve(context.Background(), cam); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	if fake.callCount() != 1 {
		t.Errorf("Expected a single probe across 5 resolves, got %d", fake.callCount())
	}
}

func TestResolveConcurrent(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	var wg sync.WaitGroup
	var resolveErrs atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resolver.Resolve(context.Background(), cam); err != nil {
				resolveErrs.Add(1)
			}
		}()
	}
	wg.Wait()

	if resolveErrs.Load() != 0 {
		t.Errorf("Expected no resolve errors, got %d", resolveErrs.Load())
	}
	if fake.callCount() != 1 {
		t.Errorf("Expected a single probe across concurrent resolves, got %d", fake.callCount())
	}
}

func TestInvalidateForcesReprobe(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	if _, err := resolver.Resolve(context.Background(), cam); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	resolver.Invalidate(cam.Name)
	if _, err := resolver.Resolve(context.Background(), cam); err != nil {
		t.Fatalf("Resolve after invalidate failed: %v", err)
	}
	if fake.callCount() != 2 {
		t.Errorf("Expected re-probe after invalidate, got %d probes", fake.callCount())
	}
}

func TestResolveStreamURI(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	uri, err := resolver.ResolveStreamURI(context.Background(), cam)
	if err != nil {
		t.Fatalf("ResolveStreamURI failed: %v", err)
	}
	if uri != cam.RTSPURL() {
		t.Errorf("Expected %s, got %s", cam.RTSPURL(), uri)
	}
}

func TestTestConnection(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{
		cam.RTSPURL(): {hasAudio: true},
	}}
	resolver := NewResolver(withProbe(fake.probe))

	probe := resolver.TestConnection(context.Background(), cam)
	if !probe.Reachable {
		t.Fatalf("Expected reachable, got error %q", probe.Error)
	}
	if !probe.HasAudio {
		t.Error("Expected audio track to be reported")
	}
	if strings.Contains(probe.URI, "secret") {
		t.Errorf("Probe URI leaks credentials: %s", probe.URI)
	}

	// Connectivity tests bypass the cache so repeated checks see the
	// camera's current state.
	resolver.TestConnection(context.Background(), cam)
	if fake.callCount() != 2 {
		t.Errorf("Expected 2 probes for 2 tests, got %d", fake.callCount())
	}
}

func TestTestConnectionUnreachable(t *testing.T) {
	cam := testCamera()
	fake := &fakeProbe{answers: map[string]probeResult{}}
	resolver := NewResolver(withProbe(fake.probe))

	probe := resolver.TestConnection(context.Background(), cam)
	if probe.Reachable {
		t.Error("Expected unreachable camera")
	}
	if probe.Capability != CapabilityUnsupported {
		t.Errorf("Expected unsupported capability, got %s", probe.Capability)
	}
	if probe.Error == "" {
		t.Error("Expected error detail")
	}
}
