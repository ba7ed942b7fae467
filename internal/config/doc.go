// Package config provides configuration loading for the license engine.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern PRO_<SECTION>_<KEY>:
//
//	PRO_LICENSE_ROOT=/home/me/project
//	PRO_LICENSE_SERVER_URL=https://api.synkra.ai
//	PRO_LICENSE_TIMEOUT=10s
//	PRO_LOGGING_LEVEL=debug
//	PRO_SERVER_PORT=7433
//
// # Validation
//
// Load validates the merged configuration with struct tags, so a bad server URL
// or an out of range port is rejected before anything touches the network.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
