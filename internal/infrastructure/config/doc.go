// Package config handles loading and validating the device agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_AGENT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The symmetric key and JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The local API binds to loopback by default
//
// Usage:
//
//	cfg, err := config.Load("configs/agent.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.RegistrationID)
package config
