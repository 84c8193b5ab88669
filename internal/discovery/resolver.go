// Package discovery probes cameras over RTSP and resolves the stream URI a
// relay job should ingest. Cameras differ in which request path their
// firmware serves, so the resolver negotiates a capability per camera once
// and caches the outcome instead of re-probing on every job start.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/relayd/internal/cameras"
	"github.com/smazurov/relayd/internal/logging"
)

// Capability identifies which RTSP path variant a camera answered on.
type Capability string

const (
	// CapabilityStandard means the camera served the configured stream path.
	CapabilityStandard Capability = "standard"
	// CapabilityLegacy means only the legacy live.sdp path worked.
	CapabilityLegacy Capability = "legacy"
	// CapabilityUnsupported means no probed variant answered.
	CapabilityUnsupported Capability = "unsupported"
)

// Resolution is the cached outcome of probing one camera.
type Resolution struct {
	Capability Capability
	URI        string
	HasAudio   bool
}

// Resolver negotiates and caches per-camera stream URIs.
type Resolver interface {
	// ResolveStreamURI returns the ingest URI for a camera, probing it on
	// first use. Callers should fall back to the camera's deterministic
	// RTSP URL when this errors.
	ResolveStreamURI(ctx context.Context, cam cameras.CameraConfig) (string, error)
	// Resolve returns the full probe outcome including audio presence.
	Resolve(ctx context.Context, cam cameras.CameraConfig) (Resolution, error)
	// TestConnection performs a fresh reachability check without touching
	// the capability cache.
	TestConnection(ctx context.Context, cam cameras.CameraConfig) Probe
	// Invalidate drops the cached resolution for a camera so the next
	// resolve probes again. Call after editing a camera's connection info.
	Invalidate(name string)
}

// Probe reports the result of a one-off connectivity test.
type Probe struct {
	URI        string     `json:"uri" doc:"Probed stream URI with credentials redacted"`
	Capability Capability `json:"capability" doc:"Path variant that answered"`
	Reachable  bool       `json:"reachable" doc:"Whether the camera answered the DESCRIBE"`
	HasAudio   bool       `json:"has_audio" doc:"Whether the stream announces an audio track"`
	Error      string     `json:"error,omitempty" doc:"Failure detail when unreachable"`
}

// probeFunc performs a DESCRIBE against one URI. Swappable in tests.
type probeFunc func(ctx context.Context, uri string, timeout time.Duration) (probeResult, error)

type rtspResolver struct {
	logger  logging.Logger
	timeout time.Duration
	probe   probeFunc

	mu    sync.Mutex
	cache map[string]Resolution
}

// Option configures a resolver.
type Option func(*rtspResolver)

// WithTimeout sets the per-probe timeout. Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(r *rtspResolver) {
		r.timeout = d
	}
}

func withProbe(probe probeFunc) Option {
	return func(r *rtspResolver) {
		r.probe = probe
	}
}

// NewResolver creates a probing resolver backed by an RTSP client.
func NewResolver(opts ...Option) Resolver {
	r := &rtspResolver{
		logger:  logging.GetLogger("discovery"),
		timeout: 5 * time.Second,
		probe:   dialAndDescribe,
		cache:   make(map[string]Resolution),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rtspResolver) ResolveStreamURI(ctx context.Context, cam cameras.CameraConfig) (string, error) {
	res, err := r.Resolve(ctx, cam)
	if err != nil {
		return "", err
	}
	return res.URI, nil
}

// Resolve holds the cache lock across the probe so each camera is probed at
// most once even when several jobs start concurrently.
func (r *rtspResolver) Resolve(ctx context.Context, cam cameras.CameraConfig) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.cache[cam.Name]; ok {
		if res.Capability == CapabilityUnsupported {
			return res, fmt.Errorf("camera %s: no supported stream path", cam.Name)
		}
		return res, nil
	}

	res := r.probeCamera(ctx, cam)
	r.cache[cam.Name] = res
	if res.Capability == CapabilityUnsupported {
		return res, fmt.Errorf("camera %s: no supported stream path", cam.Name)
	}
	return res, nil
}

func (r *rtspResolver) probeCamera(ctx context.Context, cam cameras.CameraConfig) Resolution {
	standard := cam.RTSPURL()
	result, err := r.probe(ctx, standard, r.timeout)
	if err == nil {
		r.logger.Debug("Camera answered on standard path",
			"camera", cam.Name, "uri", cameras.RedactURI(standard), "has_audio", result.hasAudio)
		return Resolution{Capability: CapabilityStandard, URI: standard, HasAudio: result.hasAudio}
	}
	r.logger.Debug("Standard path probe failed, trying legacy",
		"camera", cam.Name, "error", err)

	legacy := legacyURI(cam)
	result, err = r.probe(ctx, legacy, r.timeout)
	if err == nil {
		r.logger.Info("Camera only answers on legacy path",
			"camera", cam.Name, "uri", cameras.RedactURI(legacy), "has_audio", result.hasAudio)
		return Resolution{Capability: CapabilityLegacy, URI: legacy, HasAudio: result.hasAudio}
	}
	r.logger.Warn("Camera unreachable on all probed paths",
		"camera", cam.Name, "error", err)
	return Resolution{Capability: CapabilityUnsupported}
}

func (r *rtspResolver) TestConnection(ctx context.Context, cam cameras.CameraConfig) Probe {
	standard := cam.RTSPURL()
	if result, err := r.probe(ctx, standard, r.timeout); err == nil {
		return Probe{
			URI:        cameras.RedactURI(standard),
			Capability: CapabilityStandard,
			Reachable:  true,
			HasAudio:   result.hasAudio,
		}
	}

	legacy := legacyURI(cam)
	result, err := r.probe(ctx, legacy, r.timeout)
	if err == nil {
		return Probe{
			URI:        cameras.RedactURI(legacy),
			Capability: CapabilityLegacy,
			Reachable:  true,
			HasAudio:   result.hasAudio,
		}
	}
	return Probe{
		URI:        cameras.RedactURI(standard),
		Capability: CapabilityUnsupported,
		Error:      err.Error(),
	}
}

func (r *rtspResolver) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

// legacyURI rewrites the camera URL onto the live.sdp path that pre-ONVIF
// firmware serves.
func legacyURI(cam cameras.CameraConfig) string {
	legacy := cam
	legacy.Path = "live.sdp"
	return legacy.RTSPURL()
}
