package discovery

import (
	"context"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
)

// probeResult carries what a DESCRIBE exchange revealed about a stream.
type probeResult struct {
	hasAudio bool
}

// dialAndDescribe connects to an RTSP URI and inspects the announced media
// tracks. The go2rtc client has no context plumbing, so the exchange runs in
// a goroutine and the caller's context can abandon it.
func dialAndDescribe(ctx context.Context, uri string, timeout time.Duration) (probeResult, error) {
	type outcome struct {
		res probeResult
		err error
	}

	done := make(chan outcome, 1)
	go func() {
		client := rtsp.NewClient(uri)
		client.Backchannel = false
		client.UserAgent = "relayd"
		if secs := int(timeout.Seconds()); secs > 0 {
			client.Timeout = secs
		}

		if err := client.Dial(); err != nil {
			done <- outcome{err: err}
			return
		}
		defer func() {
			_ = client.Stop()
		}()

		if err := client.Describe(); err != nil {
			done <- outcome{err: err}
			return
		}

		var res probeResult
		for _, media := range client.Medias {
			if media.Kind == core.KindAudio {
				res.hasAudio = true
			}
		}
		done <- outcome{res: res}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return probeResult{}, ctx.Err()
	}
}
