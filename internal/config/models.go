package config

import (
	"fmt"
	"time"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Disassembler backends for DISAS_FUNCTION_CONTAINS_STRING.
const (
	DisassemblerObjdump = "objdump"
	DisassemblerNative  = "native"
)

// Config represents the entire user configuration file.
type Config struct {
	Version int            `yaml:"version"`
	Tools   *ToolsConfig   `yaml:"tools,omitempty"`
	Engine  *EngineConfig  `yaml:"engine,omitempty"`
	Catalog *CatalogConfig `yaml:"catalog,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
}

// ToolsConfig locates the external binaries used by binary tests.
type ToolsConfig struct {
	Objdump      string        `yaml:"objdump"`      // AArch64-capable objdump
	Sigtool      string        `yaml:"sigtool"`      // Rolling checksum tool
	Timeout      time.Duration `yaml:"timeout"`      // Per invocation
	Disassembler string        `yaml:"disassembler"` // "objdump" or "native"
}

// EngineConfig tunes classification.
type EngineConfig struct {
	Workers  int `yaml:"workers"`
	MaxDepth int `yaml:"max_depth"` // Logic tree nesting limit
}

// CatalogConfig describes where test suites come from.
type CatalogConfig struct {
	Dir               string `yaml:"dir"`                // Local catalog mirror
	SuitesFile        string `yaml:"suites_file"`        // Suite index, relative to Dir
	URLPrefix         string `yaml:"url_prefix"`         // Stripped from chunk URLs
	BaseURL           string `yaml:"base_url"`           // Download server for `catalog fetch`
	Keyring           string `yaml:"keyring,omitempty"`  // OpenPGP public keys for chunk signatures
	RequireSignatures bool   `yaml:"require_signatures"` // Refuse unsigned chunks
	MaxRetries        int    `yaml:"max_retries"`        // Download retries
}

// ServerConfig configures the optional metrics and events listener.
type ServerConfig struct {
	Listen   string `yaml:"listen"`
	CertFile string `yaml:"tls_cert,omitempty"` // Serve HTTPS when set with KeyFile
	KeyFile  string `yaml:"tls_key,omitempty"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Tools: &ToolsConfig{
			Objdump:      "objdump",
			Sigtool:      "sigtool",
			Timeout:      2 * time.Minute,
			Disassembler: DisassemblerObjdump,
		},
		Engine: &EngineConfig{
			Workers:  8,
			MaxDepth: 64,
		},
		Catalog: &CatalogConfig{
			Dir:        "catalog",
			SuitesFile: "allTestSuites.json",
			URLPrefix:  "https://snoopsnitch-api.srlabs.de",
			BaseURL:    "https://snoopsnitch-api.srlabs.de",
			MaxRetries: 3,
		},
		Server: &ServerConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// ApplyDefaults fills every missing section and zero field from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}

	if c.Tools == nil {
		c.Tools = d.Tools
	} else {
		setString(&c.Tools.Objdump, d.Tools.Objdump)
		setString(&c.Tools.Sigtool, d.Tools.Sigtool)
		setString(&c.Tools.Disassembler, d.Tools.Disassembler)
		if c.Tools.Timeout <= 0 {
			c.Tools.Timeout = d.Tools.Timeout
		}
	}

	if c.Engine == nil {
		c.Engine = d.Engine
	} else {
		setInt(&c.Engine.Workers, d.Engine.Workers)
		setInt(&c.Engine.MaxDepth, d.Engine.MaxDepth)
	}

	if c.Catalog == nil {
		c.Catalog = d.Catalog
	} else {
		setString(&c.Catalog.Dir, d.Catalog.Dir)
		setString(&c.Catalog.SuitesFile, d.Catalog.SuitesFile)
		setString(&c.Catalog.URLPrefix, d.Catalog.URLPrefix)
		setString(&c.Catalog.BaseURL, d.Catalog.BaseURL)
		setInt(&c.Catalog.MaxRetries, d.Catalog.MaxRetries)
	}

	if c.Server == nil {
		c.Server = d.Server
	} else {
		setString(&c.Server.Listen, d.Server.Listen)
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}
	if c.Tools != nil {
		switch c.Tools.Disassembler {
		case DisassemblerObjdump, DisassemblerNative:
		default:
			return fmt.Errorf("tools.disassembler must be %q or %q, got %q",
				DisassemblerObjdump, DisassemblerNative, c.Tools.Disassembler)
		}
	}
	if c.Engine != nil {
		if c.Engine.Workers < 1 || c.Engine.Workers > 256 {
			return fmt.Errorf("engine.workers must be between 1 and 256, got %d", c.Engine.Workers)
		}
		if c.Engine.MaxDepth < 1 {
			return fmt.Errorf("engine.max_depth must be positive, got %d", c.Engine.MaxDepth)
		}
	}
	if c.Catalog != nil && c.Catalog.RequireSignatures && c.Catalog.Keyring == "" {
		return fmt.Errorf("catalog.require_signatures needs catalog.keyring")
	}
	if c.Server != nil && (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}
