// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logger wires up per-subsystem leveled loggers backed by
// decred/slog, teed to stdout and a rotating log file.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter writes to stdout, and also to the rotator once initialized.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if initiated {
		LogRotator.Write(p)
	}
	return len(p), nil
}

var backendLog = slog.NewBackend(logWriter{})

// LogRotator is the log rotator output. It should be closed on shutdown.
var LogRotator *rotator.Rotator

var initiated = false

// SubsystemTags enumerates the subsystem identifiers used across the node.
var SubsystemTags = struct {
	POWE, // PoW engine
	MPOL, // mempool
	PEER, // peer discovery / connection management
	CIRB, // circuit breaker
	NODE, // node coordinator
	CNFG, // configuration
	KEYS string // key manager
}{
	POWE: "POWE",
	MPOL: "MPOL",
	PEER: "PEER",
	CIRB: "CIRB",
	NODE: "NODE",
	CNFG: "CNFG",
	KEYS: "KEYS",
}

var subsystemLoggers = map[string]slog.Logger{
	SubsystemTags.POWE: backendLog.Logger(SubsystemTags.POWE),
	SubsystemTags.MPOL: backendLog.Logger(SubsystemTags.MPOL),
	SubsystemTags.PEER: backendLog.Logger(SubsystemTags.PEER),
	SubsystemTags.CIRB: backendLog.Logger(SubsystemTags.CIRB),
	SubsystemTags.NODE: backendLog.Logger(SubsystemTags.NODE),
	SubsystemTags.CNFG: backendLog.Logger(SubsystemTags.CNFG),
	SubsystemTags.KEYS: backendLog.Logger(SubsystemTags.KEYS),
}

// InitLogRotator initializes the rotating log file. It must be called
// before any subsystem logger is used if file output is desired; callers
// that skip it simply get stdout-only logging (tolerant of no log dir,
// matching spec §4.5's "tolerant of a missing file on boot" spirit).
func InitLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
			return
		}
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		return
	}
	LogRotator = r
	initiated = true
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// Get returns the logger for a specific subsystem tag.
func Get(tag string) slog.Logger {
	logger, ok := subsystemLoggers[tag]
	if !ok {
		return backendLog.Logger(tag)
	}
	return logger
}

// SupportedSubsystems returns a sorted slice of known subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels parses a debug level spec of the form
// "trace" or "PEER=debug,MPOL=trace" and applies it.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}
