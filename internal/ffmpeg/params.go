package ffmpeg

// StreamConfig describes one relay: where to read the camera stream and
// where to push it. Immutable once a job starts; a changed config means a
// new job.
type StreamConfig struct {
	// Camera is the owning camera name, used for job labels and autostart
	// bookkeeping. Not consumed by the argument builder.
	Camera string `json:"camera,omitempty"`

	// Source is the input stream URI, credentials embedded.
	Source string `json:"source"`

	// Platform selects the output endpoint: a named platform from the
	// configured table ("youtube", "twitch", ...) or "custom" with an
	// explicit ServerURL. Empty together with ServerURL means no output,
	// which only makes sense for connectivity probes.
	Platform  string `json:"platform,omitempty"`
	StreamKey string `json:"stream_key,omitempty"`
	ServerURL string `json:"server_url,omitempty"`

	// SilentAudio injects a generated silent track when the camera
	// publishes no audio. RTMP ingest endpoints reject video-only streams.
	SilentAudio bool `json:"silent_audio,omitempty"`

	// Advisory hints. The video track is passed through unmodified, so
	// these inform status output rather than the encode.
	FPS        int    `json:"fps,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`

	// ExtraArgs are appended to the built command after de-duplication.
	// Flags that collide with the reliability baseline are dropped.
	ExtraArgs []string `json:"extra_args,omitempty"`
}
