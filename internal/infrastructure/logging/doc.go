// Package logging provides structured logging for the device agent.
//
// It wraps Go's log/slog so every entry carries the service name and
// version, and each agent component can be tagged with Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	twinLog := logger.Component("twin")
//	twinLog.Info("reported patch sent", "property", "brightness", "desired_version", 7)
//
// # Security
//
// Never log the symmetric key, SAS tokens or the JWT secret.
package logging
