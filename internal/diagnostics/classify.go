package diagnostics

import "strings"

// Category is a coarse bucket for ffmpeg failure output.
type Category string

// Failure categories, from pattern-matching raw process output.
const (
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryPermission Category = "permission"
	CategoryRTSP       Category = "rtsp"
	CategoryCodec      Category = "codec"
	CategoryResource   Category = "resource"
	CategoryGeneric    Category = "generic"
)

// classifyPatterns maps lowercase substrings to a category. Ordering
// matters: the first category with a matching pattern wins, so the more
// specific buckets are listed before the broad network bucket.
var classifyPatterns = []struct {
	category Category
	tokens   []string
}{
	{CategoryAuth, []string{
		"401", "unauthorized", "403", "forbidden",
		"authentication", "authorization",
		"invalid stream key", "access denied", "wrong password",
	}},
	{CategoryPermission, []string{
		"permission denied", "operation not permitted",
	}},
	{CategoryResource, []string{
		"cannot allocate memory", "out of memory",
		"too many open files", "no space left",
		"resource temporarily unavailable", "device or resource busy",
	}},
	{CategoryCodec, []string{
		"invalid data found", "could not find codec", "unknown codec",
		"unsupported codec", "codec not currently supported",
		"moov atom not found", "error while decoding",
		"non-monotonic", "invalid nal", "no streams",
		"pixel format", "could not find codec parameters",
	}},
	{CategoryNetwork, []string{
		"connection refused", "connection timed out", "connection reset",
		"timed out", "timeout", "no route to host",
		"network is unreachable", "host is unreachable", "broken pipe",
		"end of file", "failed to connect", "could not connect",
		"name or service not known", "name resolution",
		"could not resolve", "host not found", "i/o error",
	}},
	{CategoryRTSP, []string{
		"method describe failed", "method setup failed",
		"method play failed", "method announce failed",
		"rtsp session", "unsupported transport", "sdp",
		"454 ", "461 ",
	}},
}

// categoryHints give the operator a one-line reading of each bucket.
var categoryHints = map[Category]string{
	CategoryNetwork:    "Network path to the camera or ingest endpoint is failing. Check reachability and firewall rules.",
	CategoryAuth:       "The camera or platform rejected the credentials. Check username, password, and stream key.",
	CategoryPermission: "The daemon lacks OS-level permission for a file or device it needs.",
	CategoryRTSP:       "The camera's RTSP endpoint rejected the session. Check the stream path and transport settings.",
	CategoryCodec:      "The input stream could not be decoded. The camera may be sending a format ffmpeg does not accept.",
	CategoryResource:   "The host is out of a system resource. Check memory, file descriptors, and disk space.",
	CategoryGeneric:    "No known failure pattern matched. Inspect the raw output.",
}

// Classify buckets raw ffmpeg output into a failure category by substring
// match. Best effort: it informs operator-facing messages and never drives
// control flow.
func Classify(output string) Category {
	text := strings.ToLower(output)
	for _, p := range classifyPatterns {
		for _, token := range p.tokens {
			if strings.Contains(text, token) {
				return p.category
			}
		}
	}
	return CategoryGeneric
}

// Hint returns the operator guidance for a category.
func Hint(cat Category) string {
	if h, ok := categoryHints[cat]; ok {
		return h
	}
	return categoryHints[CategoryGeneric]
}
