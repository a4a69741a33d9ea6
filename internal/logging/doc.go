// Package logging provides structured logging for lumen.
//
// It wraps a package-global zap logger. Logging is silent unless a level is
// configured, because the interactive control panel owns the terminal and
// stray log lines would corrupt its rendering.
//
// # Configuration
//
//	if err := logging.Initialize("debug", "/tmp/lumen.log"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// With no explicit level the LUMEN_LOG_LEVEL environment variable is
// consulted. Valid values are "debug", "info", "warn" and "error".
//
// # Structured Fields
//
//	logging.Info("device discovered",
//	    zap.String("device_id", id.String()),
//	    zap.String("addr", addr.String()),
//	)
//
// Datagram traffic is logged through LogDatagram, which adds a hex dump when
// debug logging is enabled.
//
// # Thread Safety
//
// All functions are safe for concurrent use. Initialize should be called once
// at process start, before other goroutines log.
package logging
