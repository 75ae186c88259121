// Package logging provides a structured logging system for the host that supports both
// CLI and TUI execution modes with unified log handling and flexible output formatting.
//
// This package implements a dual-mode logging architecture that can operate in either
// CLI mode (direct output) or TUI mode (channel-based message passing), enabling
// consistent logging behavior across different user interface paradigms.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Execution Modes
//   - **CLI Mode**: Direct logging to specified output writer (stdout/stderr)
//   - **TUI Mode**: Logging via buffered channel for consumption by terminal UI
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage
//
//	import "wasmhost/pkg/logging"
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Host", "loaded actor %s", subject)
//	logging.Warn("Router", "route already removed for %s", subject)
//	logging.Error("PluginManager", err, "failed to load plugin %s", path)
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization. The
// core emits under, among others: Host, Bus, Router, Authz, Claims,
// PluginManager, Worker, Middleware.
//
// # Cleanup and Shutdown
//
// TUI mode callers should close the returned channel's producer side with
// CloseTUIChannel during shutdown to avoid leaking the channel reader
// goroutine.
package logging
