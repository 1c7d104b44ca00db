// Copyright 2025 The lantern Authors
// This file is part of the lantern library.
//
// The lantern library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lantern library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lantern library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides a key/value leveled logger with an opinionated
// terminal handler.
package log

import (
	"sync/atomic"
	"time"
)

// Lvl is the severity of a log record.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

// AlignedString returns a 5-character aligned representation of the level.
func (l Lvl) AlignedString() string {
	switch l {
	case LvlTrace:
		return "TRACE"
	case LvlDebug:
		return "DEBUG"
	case LvlInfo:
		return "INFO "
	case LvlWarn:
		return "WARN "
	case LvlError:
		return "ERROR"
	case LvlCrit:
		return "CRIT "
	default:
		return "UNKN "
	}
}

// LvlFromString resolves a textual level name.
func LvlFromString(s string) (Lvl, bool) {
	switch s {
	case "trace":
		return LvlTrace, true
	case "debug":
		return LvlDebug, true
	case "info":
		return LvlInfo, true
	case "warn", "warning":
		return LvlWarn, true
	case "error":
		return LvlError, true
	case "crit":
		return LvlCrit, true
	}
	return LvlInfo, false
}

// A Record is a log message prepared for a Handler.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}
}

// Handler writes log records to some destination.
type Handler interface {
	Log(r *Record) error
}

// Logger writes key/value pairs at named severities. Context attached with
// New is prepended to every record.
type Logger interface {
	// New returns a child logger with ctx appended to its context.
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx  []interface{}
	root *root
}

type handlerBox struct {
	h Handler
}

type root struct {
	handler atomic.Value // handlerBox
	maxLvl  atomic.Int32
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{root: l.root}
	child.ctx = append(append([]interface{}{}, l.ctx...), normalize(ctx)...)
	return child
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if int32(lvl) > l.root.maxLvl.Load() {
		return
	}
	box, _ := l.root.handler.Load().(handlerBox)
	h := box.h
	if h == nil {
		return
	}
	r := &Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  append(append([]interface{}{}, l.ctx...), normalize(ctx)...),
	}
	h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// normalize pads dangling keys so records always hold key/value pairs.
func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, "MISSING_VALUE")
	}
	return ctx
}

var rootLogger = func() *logger {
	r := &root{}
	r.handler.Store(handlerBox{DiscardHandler()})
	r.maxLvl.Store(int32(LvlInfo))
	return &logger{root: r}
}()

// Root returns the process-wide root logger.
func Root() Logger { return rootLogger }

// SetDefault installs the handler backing the root logger and all loggers
// derived from it.
func SetDefault(h Handler) { rootLogger.root.handler.Store(handlerBox{h}) }

// SetLevel adjusts the maximum severity the root logger emits.
func SetLevel(lvl Lvl) { rootLogger.root.maxLvl.Store(int32(lvl)) }

// New returns a child of the root logger carrying the given context.
func New(ctx ...interface{}) Logger { return rootLogger.New(ctx...) }

// Convenience helpers writing through the root logger.
func Trace(msg string, ctx ...interface{}) { rootLogger.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { rootLogger.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { rootLogger.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { rootLogger.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { rootLogger.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { rootLogger.Crit(msg, ctx...) }
