package diagnostics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CheckResult is the outcome of one connectivity probe.
type CheckResult struct {
	Name      string `json:"name" doc:"Probe name: dns, tcp, or https"`
	Target    string `json:"target" doc:"What was probed"`
	OK        bool   `json:"ok" doc:"Whether the probe succeeded"`
	Detail    string `json:"detail,omitempty" doc:"Resolved addresses or status"`
	Error     string `json:"error,omitempty" doc:"Failure reason"`
	LatencyMS int64  `json:"latency_ms" doc:"Probe duration in milliseconds"`
}

// ConnectivityReport is the result of probing one endpoint. Healthy means
// the endpoint resolved and accepted a TCP connection; the HTTPS probe is
// informational since most ingest hosts do not serve it.
type ConnectivityReport struct {
	Name      string        `json:"name" doc:"Platform or camera the endpoint belongs to"`
	Endpoint  string        `json:"endpoint" doc:"Endpoint URI probed"`
	Healthy   bool          `json:"healthy" doc:"DNS and TCP probes both passed"`
	Checks    []CheckResult `json:"checks" doc:"Individual probe outcomes"`
	Timestamp time.Time     `json:"timestamp" doc:"When the probes ran"`
}

// Default ports for the URI schemes a relay endpoint can use.
var schemePorts = map[string]string{
	"rtmp":  "1935",
	"rtmps": "443",
	"rtsp":  "554",
	"http":  "80",
	"https": "443",
}

const probeTimeout = 5 * time.Second

// TestEndpoint probes an ingest or camera endpoint: DNS resolution, a TCP
// dial of the endpoint port, and HTTPS reachability of the host. Probes run
// synchronously and each is bounded by its own timeout.
func TestEndpoint(ctx context.Context, name, endpoint string) *ConnectivityReport {
	report := &ConnectivityReport{
		Name:      name,
		Endpoint:  endpoint,
		Timestamp: time.Now().UTC(),
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		reason := "endpoint has no host"
		if err != nil {
			reason = fmt.Sprintf("endpoint is not a valid URI: %v", err)
		}
		report.Checks = append(report.Checks, CheckResult{
			Name:   "dns",
			Target: endpoint,
			Error:  reason,
		})
		return report
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = schemePorts[strings.ToLower(u.Scheme)]
		if port == "" {
			port = "1935"
		}
	}

	dns := checkDNS(ctx, host)
	report.Checks = append(report.Checks, dns)

	tcp := checkTCP(ctx, net.JoinHostPort(host, port))
	report.Checks = append(report.Checks, tcp)

	report.Checks = append(report.Checks, checkHTTPS(ctx, host))

	report.Healthy = dns.OK && tcp.OK
	return report
}

func checkDNS(ctx context.Context, host string) CheckResult {
	res := CheckResult{Name: "dns", Target: host}
	if ip := net.ParseIP(host); ip != nil {
		res.OK = true
		res.Detail = "literal address, no lookup needed"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	if len(addrs) > 3 {
		addrs = addrs[:3]
	}
	res.Detail = strings.Join(addrs, ", ")
	return res
}

func checkTCP(ctx context.Context, addr string) CheckResult {
	res := CheckResult{Name: "tcp", Target: addr}

	dialer := net.Dialer{Timeout: probeTimeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	conn.Close()
	res.OK = true
	return res
}

func checkHTTPS(ctx context.Context, host string) CheckResult {
	target := "https://" + host + "/"
	res := CheckResult{Name: "https", Target: target}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	client := &http.Client{Timeout: probeTimeout}
	start := time.Now()
	resp, err := client.Do(req)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp.Body.Close()
	res.OK = true
	res.Detail = resp.Status
	return res
}
