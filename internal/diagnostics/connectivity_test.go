package diagnostics

import (
	"context"
	"fmt"
	"net"
	"testing"
)

func TestEndpointReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	endpoint := fmt.Sprintf("rtmp://127.0.0.1:%d/live", ln.Addr().(*net.TCPAddr).Port)
	report := TestEndpoint(context.Background(), "custom", endpoint)

	if !report.Healthy {
		t.Errorf("report unhealthy for a listening endpoint: %+v", report.Checks)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("check count = %d, want 3", len(report.Checks))
	}
	if !report.Checks[0].OK || report.Checks[0].Name != "dns" {
		t.Errorf("dns check = %+v, want ok", report.Checks[0])
	}
	if !report.Checks[1].OK || report.Checks[1].Name != "tcp" {
		t.Errorf("tcp check = %+v, want ok", report.Checks[1])
	}
}

func TestEndpointConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	endpoint := fmt.Sprintf("rtmp://127.0.0.1:%d/live", port)
	report := TestEndpoint(context.Background(), "custom", endpoint)

	if report.Healthy {
		t.Error("report healthy for a closed port")
	}
	tcp := report.Checks[1]
	if tcp.OK || tcp.Error == "" {
		t.Errorf("tcp check = %+v, want failure with reason", tcp)
	}
}

func TestEndpointDefaultsIngestPort(t *testing.T) {
	report := TestEndpoint(context.Background(), "youtube", "rtmp://127.0.0.1/live2")
	if got := report.Checks[1].Target; got != "127.0.0.1:1935" {
		t.Errorf("tcp target = %q, want default rtmp port", got)
	}
}

func TestEndpointRejectsBadURI(t *testing.T) {
	report := TestEndpoint(context.Background(), "broken", "not a uri at all")
	if report.Healthy {
		t.Error("report healthy for an unparseable endpoint")
	}
	if len(report.Checks) != 1 || report.Checks[0].Error == "" {
		t.Errorf("checks = %+v, want a single dns failure", report.Checks)
	}
}
