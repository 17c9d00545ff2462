// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a single process-wide structured logger, plus a
// per-collaborator New for components (such as torrentlog) that need their
// own sink instead of the global one.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global = mustNopSugar()
)

func mustNopSugar() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func init() {
	if l, err := zap.NewProduction(); err == nil {
		mu.Lock()
		global = l.Sugar()
		mu.Unlock()
	}
}

// ConfigureLogger rebuilds the global logger from config, replacing whatever
// was configured before (including the default production logger installed
// at package init).
func ConfigureLogger(config zap.Config) {
	l, err := config.Build()
	if err != nil {
		// Fall back to whatever logger was already installed rather than
		// leaving the process without one.
		return
	}
	mu.Lock()
	global = l.Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return global
}

// Config configures a standalone Logger returned by New, independent of the
// global logger configured via ConfigureLogger.
type Config struct {
	// Disable makes New return a no-op logger. Useful for tests that don't
	// care about a component's structured output.
	Disable bool `yaml:"disable"`

	// OutputPath is where log entries are written. Defaults to stdout.
	OutputPath string `yaml:"output_path"`

	// Level is the minimum enabled log level. Defaults to "info".
	Level string `yaml:"level"`
}

func (c Config) applyDefaults() Config {
	if c.OutputPath == "" {
		c.OutputPath = "stdout"
	}
	if c.Level == "" {
		c.Level = "info"
	}
	return c
}

// New creates a standalone JSON logger writing to config.OutputPath, with
// fields attached to every entry it emits. If config.Disable is set, New
// returns a no-op logger that discards everything.
func New(config Config, fields map[string]interface{}) (*zap.Logger, error) {
	if config.Disable {
		return zap.NewNop(), nil
	}
	config = config.applyDefaults()

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{config.OutputPath}
	zc.ErrorOutputPaths = []string{config.OutputPath}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		l = l.With(zap.Any(k, v))
	}
	return l, nil
}

// Debugf logs a formatted debug-level message to the global logger.
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Infof logs a formatted info-level message to the global logger.
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Info logs an info-level message to the global logger.
func Info(args ...interface{}) { get().Info(args...) }

// Warn logs a warn-level message to the global logger.
func Warn(args ...interface{}) { get().Warn(args...) }

// Warnf logs a formatted warn-level message to the global logger.
func Warnf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Errorf logs a formatted error-level message to the global logger.
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// Error logs an error-level message to the global logger.
func Error(args ...interface{}) { get().Error(args...) }

// Fatalf logs a formatted message to the global logger, then exits the
// process.
func Fatalf(format string, args ...interface{}) { get().Fatalf(format, args...) }
