// Package logging provides structured logging for patchscan.
//
// This package wraps zap logger with convenience functions for the
// logging patterns used by the CLI, the engine and the metrics server.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (tool invocations, raw search requests, symbol dumps)
//   - Info: Normal operations (catalog loaded, run started, run finished)
//   - Warn: Non-fatal issues (a test evaluated to unknown, retries)
//   - Error: Fatal issues (startup failures, recovered panics)
//
// # Configuration
//
// Logging is silent unless PATCHSCAN_LOG_LEVEL is set or the CLI passes
// --log-level:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// PATCHSCAN_LOG_FORMAT=json switches to JSON encoding. Output always goes to
// stderr.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
