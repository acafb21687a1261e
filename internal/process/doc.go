// Package process provides subprocess lifecycle management.
//
// Process wraps os/exec for a single long-running subprocess:
//   - Graceful shutdown with SIGINT and configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Text output streaming with pluggable log parsing
//   - Optional binary stdout handling for encoders that write media to a pipe
//
// Example:
//
//	p := process.NewProcess("camera-0", cmd, logger)
//	p.SetLogParser(ffmpegLogger, ffmpeg.ParseLogLevel)
//	p.SetStdoutHandler(func(r io.Reader) { consume(r) })
//	go p.Run()
//	defer p.Shutdown()
package process
