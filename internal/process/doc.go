// Package process provides subprocess lifecycle management.
//
// Handle wraps os/exec for single subprocess supervision:
//   - Non-blocking launch; the handle is live as soon as the process is
//   - Exactly one exit status recorded per handle, observable via Done
//   - Graceful stop with SIGINT escalating to SIGKILL after a grace window
//   - Output streaming with pluggable line handling and log parsing
//
// Example usage:
//
//	h, err := process.Launch("cam1", "ffmpeg", argv,
//	    process.WithOutputHandler(progressSink),
//	    process.WithGracefulTimeout(5*time.Second))
//	if err != nil {
//	    return err
//	}
//	defer h.Stop()
//	<-h.Done()
//	log.Printf("exit: %d", h.Status().Code)
package process
