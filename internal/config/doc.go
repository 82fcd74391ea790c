// Package config provides user configuration management for patchscan.
//
// This package manages a YAML-based configuration file that locates the
// external tools, tunes the engine and describes the catalog mirror. The
// configuration follows OS-specific conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/patchscan/config.yaml or $HOME/.config/patchscan/config.yaml
//   - macOS: $HOME/.config/patchscan/config.yaml
//   - Windows: %LOCALAPPDATA%\patchscan\config.yaml
//
// Every command accepts --config to use another file.
//
// # Example
//
//	version: 1
//	tools:
//	  objdump: aarch64-linux-gnu-objdump
//	  sigtool: /opt/patchscan/sigtool
//	  timeout: 2m0s
//	  disassembler: objdump
//	engine:
//	  workers: 8
//	  max_depth: 64
//	catalog:
//	  dir: catalog
//	  suites_file: allTestSuites.json
//	  url_prefix: https://snoopsnitch-api.srlabs.de
//	  base_url: https://snoopsnitch-api.srlabs.de
//	  keyring: catalog.pub
//	  require_signatures: true
//	  max_retries: 3
//	server:
//	  listen: 127.0.0.1:9464
//
// Missing fields take their defaults. A relative catalog.dir or
// catalog.keyring is resolved against the directory of the config file.
//
// # Thread Safety
//
// Save is protected by a mutex and writes atomically through a temporary
// file.
package config
