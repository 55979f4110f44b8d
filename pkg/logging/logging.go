// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the printf-style workflow log used across remote-exec.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logger   = newLogger(os.Stderr)
	exitFunc = os.Exit
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// Logger exposes the underlying logrus logger for callers that need fields.
func Logger() *logrus.Logger {
	return logger
}

// Debug prints debug detail.
func Debug(f string, a ...any) {
	logger.Debugf(f, a...)
}

// Info prints workflow progress.
func Info(f string, a ...any) {
	logger.Infof(f, a...)
}

// Warn prints a recoverable problem.
func Warn(f string, a ...any) {
	logger.Warnf(f, a...)
}

// Error prints an error without exiting.
func Error(f string, a ...any) {
	logger.Errorf(f, a...)
}

// Fatal prints an error and exits with status 1.
func Fatal(f string, a ...any) {
	Error(f, a...)
	exitFunc(1)
}
