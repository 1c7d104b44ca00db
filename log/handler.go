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

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const (
	termTimeFormat = "01-02|15:04:05.000"
	termMsgJust    = 40
)

type streamHandler struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// StreamHandler writes logfmt-style records to w. Color is enabled when w is
// a terminal.
func StreamHandler(w io.Writer) Handler {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &streamHandler{w: w, color: useColor}
}

// StdoutHandler writes to standard output.
func StdoutHandler() Handler { return StreamHandler(os.Stdout) }

// DiscardHandler drops every record. It is the default until the embedding
// program installs something else.
func DiscardHandler() Handler { return discard{} }

type discard struct{}

func (discard) Log(*Record) error { return nil }

func (h *streamHandler) Log(r *Record) error {
	var b strings.Builder
	lvl := r.Lvl.AlignedString()
	if h.color {
		lvl = lvlColor(r.Lvl).Sprint(lvl)
	}
	b.WriteString(lvl)
	b.WriteByte('[')
	b.WriteString(r.Time.Format(termTimeFormat))
	b.WriteString("] ")
	b.WriteString(r.Msg)
	if len(r.Ctx) > 0 && len(r.Msg) < termMsgJust {
		b.WriteString(strings.Repeat(" ", termMsgJust-len(r.Msg)))
	}
	for i := 0; i < len(r.Ctx); i += 2 {
		key := formatValue(r.Ctx[i])
		if h.color {
			key = lvlColor(r.Lvl).Sprint(key)
		}
		fmt.Fprintf(&b, " %s=%s", key, formatValue(r.Ctx[i+1]))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func lvlColor(lvl Lvl) *color.Color {
	switch lvl {
	case LvlCrit:
		return color.New(color.FgHiMagenta)
	case LvlError:
		return color.New(color.FgRed)
	case LvlWarn:
		return color.New(color.FgYellow)
	case LvlInfo:
		return color.New(color.FgGreen)
	case LvlDebug:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgHiBlack)
	}
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case time.Duration:
		return v.String()
	case error:
		return escapeString(v.Error())
	case fmt.Stringer:
		return escapeString(v.String())
	case string:
		return escapeString(v)
	default:
		return escapeString(fmt.Sprintf("%v", v))
	}
}

func escapeString(s string) string {
	if !strings.ContainsAny(s, " =\"") {
		return s
	}
	return fmt.Sprintf("%q", s)
}

// FuncHandler lets tests and adapters intercept records.
func FuncHandler(fn func(r *Record) error) Handler { return funcHandler(fn) }

type funcHandler func(r *Record) error

func (f funcHandler) Log(r *Record) error { return f(r) }
