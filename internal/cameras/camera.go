package cameras

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// DefaultRTSPPort is used when a camera config does not specify a port.
const DefaultRTSPPort = 554

// CameraConfig describes one IP camera and its relay defaults.
// Credentials live here so the registry file is the single place
// operators manage them.
type CameraConfig struct {
	// Name is the unique identifier for this camera. It becomes the
	// logical stream name that job IDs are derived from.
	Name string `toml:"name" json:"name"`

	// Host is the camera's hostname or IP address.
	Host string `toml:"host" json:"host"`

	// Port is the RTSP port. Defaults to 554.
	Port int `toml:"port" json:"port"`

	Username string `toml:"username,omitempty" json:"username,omitempty"`
	Password string `toml:"password,omitempty" json:"password,omitempty"`

	// Path overrides the RTSP stream path. Defaults to "stream".
	Path string `toml:"path,omitempty" json:"path,omitempty"`

	// Platform is the default relay destination ("youtube", "twitch", "custom").
	Platform string `toml:"platform,omitempty" json:"platform,omitempty"`

	// StreamKeys maps platform name to stream key, so one camera can hold
	// credentials for several destinations.
	StreamKeys map[string]string `toml:"stream_keys,omitempty" json:"stream_keys,omitempty"`

	// ServerURL is the RTMP base URL for the "custom" platform.
	ServerURL string `toml:"server_url,omitempty" json:"server_url,omitempty"`

	// Autostart marks this camera for fleet bring-up and automatic recovery.
	Autostart bool `toml:"autostart" json:"autostart"`

	// CreatedAt timestamp when the camera was first registered
	CreatedAt time.Time `toml:"created_at" json:"created_at"`

	// UpdatedAt timestamp when the camera was last modified
	UpdatedAt time.Time `toml:"updated_at" json:"updated_at"`
}

// RTSPURL builds the deterministic fallback stream URI for this camera.
// Used when discovery cannot resolve a URI from the device itself.
func (c CameraConfig) RTSPURL() string {
	port := c.Port
	if port == 0 {
		port = DefaultRTSPPort
	}

	path := c.Path
	if path == "" {
		path = "stream"
	}

	u := url.URL{
		Scheme: "rtsp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + path,
	}

	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}

	return u.String()
}

// KeyFor returns the stream key stored for the given platform, if any.
func (c CameraConfig) KeyFor(platform string) string {
	if c.StreamKeys == nil {
		return ""
	}
	return c.StreamKeys[platform]
}

// RedactURI masks the password in a URI so it is safe to log or return
// from the API. Unparseable input is returned unchanged.
func RedactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
