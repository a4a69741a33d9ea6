// Package config provides user configuration management for lumen.
//
// This package manages a YAML-based settings file: socket and broadcast
// addresses, discovery window, request and label timeouts, scheduler limits,
// command retry policy and logging. The file follows OS-specific conventions
// for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/lumen/config.yaml or $HOME/.config/lumen/config.yaml
//   - macOS: $HOME/.config/lumen/config.yaml
//   - Windows: %LOCALAPPDATA%\lumen\config.yaml
//
// # Devices
//
// Discovered devices are NEVER written to this file. Every session finds
// them again with a fresh discovery.
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Discovery.Window = 3 * time.Second
//	path, _ := config.GetConfigPath()
//	if err := cfg.Save(path); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Format
//
//	version: 1
//	transport:
//	  bind: 0.0.0.0:0
//	  device_port: 56700
//	  broadcast: 255.255.255.255
//	  read_buffer: 2048
//	discovery:
//	  window: 2s
//	  mdns: false
//	request:
//	  timeout: 1s
//	labels:
//	  timeout: 1s
//	  concurrency: 8
//	bridge:
//	  max_concurrent: 16
//	  queue_depth: 256
//	command:
//	  retry_attempts: 3
//	  initial_backoff: 200ms
//	  transition: 0s
//
// Missing fields take their defaults; unknown versions are rejected.
package config
