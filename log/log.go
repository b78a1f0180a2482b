// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the per-module leveled logger used throughout the
// node. Every package holds its own `var logger = log.NewModuleLogger(...)`
// rather than calling a global logger directly, so log lines always carry
// their origin module.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// ModuleID identifies the subsystem a logger belongs to.
type ModuleID int

const (
	Common ModuleID = iota
	Chain
	ChainManager
	Fork
	Chainstate
	BlockStore
	CompStore
	Mempool
	Miner
	Wallet
	Wire
	Node
	RPC
	Config
)

var moduleNames = map[ModuleID]string{
	Common:       "COMMON",
	Chain:        "CHAIN",
	ChainManager: "CHAINMGR",
	Fork:         "FORK",
	Chainstate:   "CHAINSTATE",
	BlockStore:   "BLOCKSTORE",
	CompStore:    "COMPSTORE",
	Mempool:      "MEMPOOL",
	Miner:        "MINER",
	Wallet:       "WALLET",
	Wire:         "WIRE",
	Node:         "NODE",
	RPC:          "RPC",
	Config:       "CONFIG",
}

func (m ModuleID) String() string {
	if n, ok := moduleNames[m]; ok {
		return n
	}
	return "UNKNOWN"
}

// Lvl is a logging priority level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "????"
	}
}

func (l Lvl) color() color.Attribute {
	switch l {
	case LvlCrit:
		return color.FgMagenta
	case LvlError:
		return color.FgRed
	case LvlWarn:
		return color.FgYellow
	case LvlInfo:
		return color.FgGreen
	case LvlDebug:
		return color.FgCyan
	default:
		return color.FgWhite
	}
}

// Logger emits leveled, key/value structured log records tagged with a
// module name and, for Trace/Debug, the call site.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

var (
	mu       sync.Mutex
	minLevel = LvlInfo
	out      io.Writer = colorable.NewColorableStderr()
)

// ChangeGlobalLogLevel adjusts the level below which records are dropped.
func ChangeGlobalLogLevel(lvl Lvl) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = lvl
}

type moduleLogger struct {
	module ModuleID
}

// NewModuleLogger returns the logger for the given module. Loggers are
// cheap; callers keep one as a package-level var.
func NewModuleLogger(m ModuleID) Logger {
	return &moduleLogger{module: m}
}

func (l *moduleLogger) log(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > minLevel {
		return
	}
	c := color.New(lvl.color()).SprintFunc()
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	line := fmt.Sprintf("%s [%s] %-9s %s", ts, c(lvl.String()), l.module.String(), msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		line += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	if lvl >= LvlDebug {
		line += fmt.Sprintf(" caller=%+v", stack.Caller(2))
	}
	fmt.Fprintln(out, line)
	if lvl == LvlCrit {
		os.Exit(1)
	}
}

func (l *moduleLogger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx) }
func (l *moduleLogger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *moduleLogger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *moduleLogger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *moduleLogger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *moduleLogger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx) }
