package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose     = "verbose"
	FlagConfig      = "config"
	FlagEndpoint    = "endpoint"
	FlagToken       = "token"
	FlagLogFile     = "log-file"
	FlagMetricsAddr = "metrics-addr"

	// Conversation flags (ask, chat)
	FlagMemoryHits = "memory-hits"
	FlagThread     = "thread"
	FlagNoTUI      = "no-tui"

	// Events command flags
	FlagFollow = "follow"
	FlagCount  = "count"
	FlagRun    = "run"

	// Reviews command flags
	FlagLimit = "limit"

	// Mock server flags
	FlagAddr   = "addr"
	FlagScript = "script"
)
