package ffmpeg

import (
	"strconv"
	"strings"
)

// MetricUpdate carries the values one stderr status line reported. Each
// field has a presence flag: a token absent from the line means "no update",
// not zero, and the caller must leave the previous observation in place.
type MetricUpdate struct {
	Frame   int64
	FPS     float64
	Size    string
	OutTime string
	Bitrate string
	Speed   float64

	HasFrame   bool
	HasFPS     bool
	HasSize    bool
	HasOutTime bool
	HasBitrate bool
	HasSpeed   bool
}

// ParseProgressLine extracts progress tokens from one line of ffmpeg stderr.
// Status lines look like:
//
//	frame=  100 fps= 24 q=28.0 size=     512kB time=00:00:04.10 bitrate=1024.0kbits/s speed=1.02x
//
// Values may be space-padded after the equals sign. Malformed numeric values
// parse to zero; this function never fails, a relay must not die because its
// diagnostics were unreadable. The second return is false when the line
// carries no recognized token at all.
func ParseProgressLine(line string) (MetricUpdate, bool) {
	var update MetricUpdate
	found := false

	if v, ok := tokenValue(line, "frame="); ok {
		update.Frame = parseInt(v)
		update.HasFrame = true
		found = true
	}
	if v, ok := tokenValue(line, "fps="); ok {
		update.FPS = parseFloat(v)
		update.HasFPS = true
		found = true
	}
	if v, ok := tokenValue(line, "size="); ok {
		update.Size = v
		update.HasSize = true
		found = true
	}
	if v, ok := tokenValue(line, "time="); ok {
		update.OutTime = v
		update.HasOutTime = true
		found = true
	}
	if v, ok := tokenValue(line, "bitrate="); ok {
		update.Bitrate = v
		update.HasBitrate = true
		found = true
	}
	if v, ok := tokenValue(line, "speed="); ok {
		update.Speed = parseSpeed(v)
		update.HasSpeed = true
		found = true
	}

	return update, found
}

// tokenValue finds key (including its trailing '=') at a word boundary and
// returns the value after it, skipping padding spaces. Boundary matching
// keeps "time=" from matching inside "out_time=".
func tokenValue(line, key string) (string, bool) {
	start := 0
	for {
		rel := strings.Index(line[start:], key)
		if rel == -1 {
			return "", false
		}
		pos := start + rel
		if pos == 0 || line[pos-1] == ' ' || line[pos-1] == '\t' || line[pos-1] == ']' {
			rest := strings.TrimLeft(line[pos+len(key):], " ")
			if cut := strings.IndexAny(rest, " \t"); cut != -1 {
				rest = rest[:cut]
			}
			return rest, true
		}
		start = pos + len(key)
	}
}

// parseSpeed handles the trailing "x" multiplier suffix ("1.02x", "0x").
func parseSpeed(v string) float64 {
	v = strings.TrimSpace(strings.TrimSuffix(v, "x"))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// BitrateKbps converts a bitrate token ("1024.0kbits/s") to numeric kbps.
// ffmpeg reports "N/A" before the muxer has data; that and any other
// unparseable token return ok false.
func BitrateKbps(v string) (float64, bool) {
	v = strings.TrimSpace(strings.TrimSuffix(v, "kbits/s"))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseLogLevel extracts the log level from ffmpeg output.
// FFmpeg with -loglevel level+info outputs lines like "[info] message"
// or "[component @ 0x...] [level] message" for component-specific logs.
// Returns the level and the message with level stripped but component preserved.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]

	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	// Check for component prefix: [component @ 0x...] [level] message
	// Keep the component, strip only the [level]
	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			nextBracket := rest[1:nextEnd]
			if isLogLevel(nextBracket) {
				return nextBracket, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
