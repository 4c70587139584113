// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the connector's logging surface: printf-style helpers
// (Debugf/Infof/Warnf/Errorf) backed by zerolog and formatted as Elastic
// Common Schema.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger zerolog.Logger

func init() {
	logger = ecszerolog.New(os.Stderr).Logger()
}

// Options configures Configure.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string

	// File, if set, also writes logs to a file rotated through lumberjack,
	// in addition to stderr.
	File *FileOptions
}

// FileOptions mirrors the subset of lumberjack.Logger fields this package
// exposes directly.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Configure replaces the package logger. Call it once during process
// startup; it is not safe to call concurrently with logging calls.
func Configure(opts Options) {
	var w io.Writer = os.Stderr
	if opts.File != nil {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    orDefault(opts.File.MaxSizeMB, 100),
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		})
	}

	level := parseLevel(opts.Level)
	logger = ecszerolog.New(w, ecszerolog.Level(level)).Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) {
	logger.Debug().Msgf(format, args...)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	logger.Info().Msgf(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	logger.Warn().Msgf(format, args...)
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	logger.Error().Msgf(format, args...)
}

// WithField returns a logger with key=value attached to every line it
// emits, for call sites that want structured context (such as a
// connector's client_id) rather than interpolating it into the message.
func WithField(key, value string) *zerolog.Logger {
	l := logger.With().Str(key, value).Logger()
	return &l
}
