// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log wraps seelog behind package-level leveled functions so the rest
// of the client never carries a logger handle around. Until SetupLogger is
// called, log calls are buffered and replayed on setup; this keeps early
// registration paths quiet by default without losing their messages.
package log

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *clientLogger

	// Log lines issued before SetupLogger runs are held here as closures and
	// replayed once a backend exists. The buffer is expected to stay tiny; it
	// only covers the window between process start and logger setup.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
)

// We're not calling the seelog instance directly but through the exported
// functions below, which adds frames to the stack trace that seelog must skip
// to report the original caller.
const defaultStackDepth = 2

// clientLogger wraps a seelog backend with a level gate.
type clientLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger installs the seelog backend used by all package-level log
// functions and replays any buffered early log lines.
func SetupLogger(l seelog.LoggerInterface, level string) {
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger = &clientLogger{
		inner: l,
		level: lvl,
	}
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	buffered := logsBuffer
	logsBuffer = []func(){}
	bufferMutex.Unlock()
	for _, logLine := range buffered {
		logLine()
	}
}

// ChangeLogLevel updates the level gate on the installed logger.
func ChangeLogLevel(level string) error {
	if logger == nil {
		return fmt.Errorf("cannot change log level: logger not initialized")
	}
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return fmt.Errorf("unknown log level: %s", level)
	}
	logger.l.Lock()
	logger.level = lvl
	logger.l.Unlock()
	return nil
}

// Flush flushes the underlying logger if one is installed.
func Flush() {
	if logger != nil && logger.inner != nil {
		logger.inner.Flush()
	}
}

func (c *clientLogger) shouldLog(level seelog.LogLevel) bool {
	c.l.RLock()
	shouldLog := level >= c.level
	c.l.RUnlock()
	return shouldLog
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()
	logsBuffer = append(logsBuffer, logHandle)
}

func logFormat(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string, ...interface{}), format string, params ...interface{}) {
	if logger != nil && logger.inner != nil {
		if logger.shouldLog(logLevel) {
			logFunc(format, params...)
		}
	} else if bufferLogsBeforeInit {
		addLogToBuffer(bufferFunc)
	}
}

func logFormatWithError(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string, ...interface{}) error, format string, params ...interface{}) error {
	if logger != nil && logger.inner != nil {
		if logger.shouldLog(logLevel) {
			return logFunc(format, params...)
		}
	} else if bufferLogsBeforeInit {
		addLogToBuffer(bufferFunc)
	}
	return fmt.Errorf(format, params...)
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	logFormat(seelog.TraceLvl, func() { Tracef(format, params...) }, func(f string, p ...interface{}) { logger.inner.Tracef(f, p...) }, format, params...)
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	logFormat(seelog.DebugLvl, func() { Debugf(format, params...) }, func(f string, p ...interface{}) { logger.inner.Debugf(f, p...) }, format, params...)
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	logFormat(seelog.InfoLvl, func() { Infof(format, params...) }, func(f string, p ...interface{}) { logger.inner.Infof(f, p...) }, format, params...)
}

// Warnf logs with format at the warn level and returns an error containing
// the formatted message
func Warnf(format string, params ...interface{}) error {
	return logFormatWithError(seelog.WarnLvl, func() { Warnf(format, params...) }, func(f string, p ...interface{}) error { return logger.inner.Warnf(f, p...) }, format, params...)
}

// Errorf logs with format at the error level and returns an error containing
// the formatted message
func Errorf(format string, params ...interface{}) error {
	return logFormatWithError(seelog.ErrorLvl, func() { Errorf(format, params...) }, func(f string, p ...interface{}) error { return logger.inner.Errorf(f, p...) }, format, params...)
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	logFormat(seelog.DebugLvl, func() { Debug(v...) }, func(_ string, p ...interface{}) { logger.inner.Debug(p...) }, "", v...)
}

// Info logs at the info level
func Info(v ...interface{}) {
	logFormat(seelog.InfoLvl, func() { Info(v...) }, func(_ string, p ...interface{}) { logger.inner.Info(p...) }, "", v...)
}

// Warn logs at the warn level and returns an error containing the message
func Warn(v ...interface{}) error {
	return logFormatWithError(seelog.WarnLvl, func() { Warn(v...) }, func(_ string, p ...interface{}) error { return logger.inner.Warn(p...) }, "%s", fmt.Sprint(v...))
}

// Error logs at the error level and returns an error containing the message
func Error(v ...interface{}) error {
	return logFormatWithError(seelog.ErrorLvl, func() { Error(v...) }, func(_ string, p ...interface{}) error { return logger.inner.Error(p...) }, "%s", fmt.Sprint(v...))
}
