package ffmpeg

import (
	"fmt"
	"strings"
)

// baselineFlags are the reliability flags every relay command carries. Caller
// extras colliding with any of these are dropped so a stray override cannot
// disable the transport or timestamp handling that keeps long-lived relays
// alive.
var baselineFlags = map[string]bool{
	"hide_banner":         true,
	"loglevel":            true,
	"re":                  true,
	"fflags":              true,
	"rtsp_transport":      true,
	"rw_timeout":          true,
	"analyzeduration":     true,
	"probesize":           true,
	"i":                   true,
	"map":                 true,
	"shortest":            true,
	"c:v":                 true,
	"c:a":                 true,
	"b:a":                 true,
	"ar":                  true,
	"reconnect":           true,
	"reconnect_streamed":  true,
	"reconnect_delay_max": true,
	"f":                   true,
	"flvflags":            true,
}

// Builder turns a StreamConfig into an ffmpeg argument list. It holds the
// platform endpoint table so output resolution stays configurable.
type Builder struct {
	platforms map[string]string
}

// NewBuilder creates a builder resolving named platforms against the given
// endpoint table.
func NewBuilder(platforms map[string]string) *Builder {
	return &Builder{platforms: platforms}
}

// Build produces the argument list for one relay run and the resolved output
// URI. The ordering is fixed so identical configs always produce identical
// commands. A config with neither platform nor server URL builds a
// probe-only command with no output section.
func (b *Builder) Build(cfg StreamConfig) ([]string, string, error) {
	if cfg.Source == "" {
		return nil, "", fmt.Errorf("stream config has no source URI")
	}
	output, err := b.ResolveOutput(cfg)
	if err != nil {
		return nil, "", err
	}

	argv := []string{"-hide_banner", "-loglevel", "level+info"}

	// Input side. Read at native rate and regenerate presentation
	// timestamps; camera clocks drift enough to break downstream muxing.
	argv = append(argv, "-re", "-fflags", "+genpts")
	if strings.HasPrefix(cfg.Source, "rtsp://") {
		argv = append(argv, "-rtsp_transport", "tcp", "-rw_timeout", "10000000")
	}
	argv = append(argv, "-analyzeduration", "2000000", "-probesize", "2000000")
	argv = append(argv, "-i", cfg.Source)

	// Cameras without a microphone still need an audio track on RTMP
	// ingest, so pair the video with generated silence.
	if cfg.SilentAudio {
		argv = append(argv, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
		argv = append(argv, "-map", "0:v", "-map", "1:a", "-shortest")
	}

	// Video passes through untouched; only audio gets (re)encoded.
	argv = append(argv, "-c:v", "copy")
	argv = append(argv, "-c:a", "aac", "-b:a", "128k", "-ar", "44100")

	argv = append(argv, mergeExtraArgs(cfg.ExtraArgs)...)

	if output != "" {
		argv = append(argv, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
		argv = append(argv, outputFormatArgs(output)...)
		argv = append(argv, output)
	}

	return argv, output, nil
}

// ResolveOutput maps the config's output target to a concrete URI. Named
// platforms require a stream key; "custom" concatenates server URL and key,
// or uses the server URL verbatim when no key is given.
func (b *Builder) ResolveOutput(cfg StreamConfig) (string, error) {
	switch {
	case cfg.Platform == "" && cfg.ServerURL == "":
		return "", nil
	case cfg.Platform == "custom" || cfg.Platform == "":
		if cfg.ServerURL == "" {
			return "", fmt.Errorf("custom platform requires a server URL")
		}
		if cfg.StreamKey == "" {
			return cfg.ServerURL, nil
		}
		return cfg.ServerURL + "/" + cfg.StreamKey, nil
	default:
		base, ok := b.platforms[cfg.Platform]
		if !ok {
			return "", fmt.Errorf("unknown platform %q", cfg.Platform)
		}
		if cfg.StreamKey == "" {
			return "", fmt.Errorf("platform %q requires a stream key", cfg.Platform)
		}
		return base + "/" + cfg.StreamKey, nil
	}
}

// outputFormatArgs picks the muxer from the output URI scheme.
func outputFormatArgs(uri string) []string {
	switch {
	case strings.HasPrefix(uri, "rtsp://"):
		return []string{"-rtsp_transport", "tcp", "-f", "rtsp"}
	case strings.HasPrefix(uri, "srt://"), strings.HasPrefix(uri, "udp://"):
		return []string{"-muxdelay", "0", "-f", "mpegts"}
	default:
		return []string{"-f", "flv", "-flvflags", "no_duration_filesize"}
	}
}

// mergeExtraArgs folds caller-supplied arguments into flag/value pairs,
// keeping the last value per flag and dropping flags reserved by the
// baseline. Tokens that pair with no flag are discarded.
func mergeExtraArgs(extras []string) []string {
	type pair struct {
		flag     string
		value    string
		hasValue bool
	}

	var order []string
	byFlag := make(map[string]*pair)

	for i := 0; i < len(extras); i++ {
		token := extras[i]
		if !isFlagToken(token) {
			continue
		}
		name := strings.TrimPrefix(token, "-")
		p := pair{flag: name}
		if i+1 < len(extras) && !isFlagToken(extras[i+1]) {
			p.value = extras[i+1]
			p.hasValue = true
			i++
		}
		if existing, ok := byFlag[name]; ok {
			*existing = p
			continue
		}
		byFlag[name] = &p
		order = append(order, name)
	}

	var merged []string
	for _, name := range order {
		if baselineFlags[name] {
			continue
		}
		p := byFlag[name]
		merged = append(merged, "-"+p.flag)
		if p.hasValue {
			merged = append(merged, p.value)
		}
	}
	return merged
}

// isFlagToken reports whether a token introduces a flag rather than a value.
// Negative numbers ("-1") count as values.
func isFlagToken(token string) bool {
	if len(token) < 2 || token[0] != '-' {
		return false
	}
	next := token[1]
	return (next < '0' || next > '9') && next != '.'
}

// SplitArgs splits a shell-style command fragment into tokens, honoring
// single and double quotes and backslash escapes. Used for operator-supplied
// extra argument strings.
func SplitArgs(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in arguments")
	}
	return args, nil
}
