// Package keyconf provides the public API for embedding the conversational
// provider configuration service.
package keyconf

import (
	"github.com/tjfontaine/polyglot-keyconf/internal/runtime"
)

// Service is the main entry point for running keyconf.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// New creates a new Service with the given options.
// Example:
//
//	svc, err := keyconf.New(
//	    keyconf.WithFileConfig("config.yaml"),
//	    keyconf.WithSQLite("./data/keyconf.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite     = runtime.WithSQLite
	WithAuditStore = runtime.WithAuditStore

	// Host integration
	WithReloader = runtime.WithReloader
	WithNotifier = runtime.WithNotifier

	// Advanced options
	WithListenAddr = runtime.WithListenAddr
	WithLogger     = runtime.WithLogger
)
