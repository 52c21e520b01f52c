package app

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Console narrates each stage to the operator with a severity tag.
type Console struct {
	out                        io.Writer
	stage, ok, warn, fail, dim *color.Color
}

func NewConsole(w io.Writer) *Console {
	return &Console{
		out:   w,
		stage: color.New(color.FgCyan, color.Bold),
		ok:    color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed, color.Bold),
		dim:   color.New(color.Faint),
	}
}

func (c *Console) line(col *color.Color, tag, format string, args ...interface{}) {
	if c == nil {
		return
	}
	col.Fprintf(c.out, "[%s] ", tag)
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Stage(format string, args ...interface{}) { c.line(c.stage, "....", format, args...) }
func (c *Console) OK(format string, args ...interface{})    { c.line(c.ok, " OK ", format, args...) }
func (c *Console) Warn(format string, args ...interface{})  { c.line(c.warn, "WARN", format, args...) }
func (c *Console) Fail(format string, args ...interface{})  { c.line(c.fail, "FAIL", format, args...) }

// Detail prints an indented secondary line.
func (c *Console) Detail(format string, args ...interface{}) {
	if c == nil {
		return
	}
	c.dim.Fprintf(c.out, "       "+format+"\n", args...)
}
