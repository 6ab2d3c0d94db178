// SPDX-License-Identifier: GPL-2.0-or-later

// Package report wraps parse errors with a trail of diagnostic entries.
//
// A Report is created once, at the innermost failure site, and every enclosing
// decode step may attach one more message while the error unwinds. The
// terminal error is kept as is so callers can still match it with errors.Is
// and errors.As.
package report

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// Location is a source location.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return l.File + ":" + strconv.Itoa(l.Line)
}

// caller returns the location skip frames above the function calling caller.
func caller(skip int) Location {
	_, file, line, ok := runtime.Caller(skip + 2)
	if !ok {
		return Location{File: "unknown"}
	}
	// Keep the package directory, the full path is noise.
	dir, name := filepath.Split(file)
	return Location{
		File: filepath.Join(filepath.Base(dir), name),
		Line: line,
	}
}

// Entry is a single diagnostic message attached to a Report.
type Entry struct {
	Message  string
	Location Location
}

func (e Entry) String() string {
	return e.Message + " at " + e.Location.String()
}

// Report is a terminal error plus the locations and messages
// attached to it while it propagated.
type Report struct {
	err      error
	location Location
	stack    []Entry
}

// New wraps err and records the location New was called from.
func New(err error) *Report {
	return &Report{err: err, location: caller(0)}
}

// NewDepth is New recording the location depth frames above its caller.
func NewDepth(err error, depth int) *Report {
	return &Report{err: err, location: caller(depth)}
}

// Get returns the terminal error.
func (r *Report) Get() error {
	return r.err
}

// Unwrap returns the terminal error.
func (r *Report) Unwrap() error {
	return r.err
}

// Location returns where the terminal error was first wrapped.
func (r *Report) Location() Location {
	return r.location
}

// Entries returns a copy of the attached entries, oldest first.
func (r *Report) Entries() []Entry {
	entries := make([]Entry, len(r.stack))
	copy(entries, r.stack)
	return entries
}

// Attach appends msg to the stack and returns the report.
func (r *Report) Attach(msg interface{}) *Report {
	return r.attach(fmt.Sprint(msg), caller(0))
}

// Attachf appends a formatted message to the stack and returns the report.
func (r *Report) Attachf(format string, a ...interface{}) *Report {
	return r.attach(fmt.Sprintf(format, a...), caller(0))
}

func (r *Report) attach(msg string, loc Location) *Report {
	r.stack = append(r.stack, Entry{Message: msg, Location: loc})
	return r
}

// Error returns the message of the terminal error.
func (r *Report) Error() string {
	return r.err.Error()
}

// Trail renders the terminal error, its capture location
// and every attached entry, one per line.
func (r *Report) Trail() string {
	var b strings.Builder
	b.WriteString(r.err.Error())
	b.WriteString(" at ")
	b.WriteString(r.location.String())
	for _, entry := range r.stack {
		b.WriteString("\n - ")
		b.WriteString(entry.String())
	}
	return b.String()
}

// Format implements fmt.Formatter, "%+v" prints the full trail.
func (r *Report) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('+'):
		fmt.Fprint(f, r.Trail())
	case verb == 'q':
		fmt.Fprintf(f, "%q", r.Error())
	default:
		fmt.Fprint(f, r.Error())
	}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func whileParsingType(name string) string {
	return "while parsing value of type `" + name + "`"
}

// WhileParsingType attaches "while parsing value of type `T`".
func WhileParsingType[T any](r *Report) *Report {
	return r.attach(whileParsingType(typeName[T]()), caller(0))
}

// From returns err as a Report. Errors that are not a Report
// themselves are wrapped at the caller's location. A Report behind
// another error is not unwrapped, so the outer error is kept.
func From(err error) *Report {
	return from(err, 1)
}

func from(err error, skip int) *Report {
	if r, ok := err.(*Report); ok {
		return r
	}
	return &Report{err: err, location: caller(skip)}
}

// Attach attaches msg to err, wrapping it in a Report first if needed.
// A nil error stays nil.
func Attach(err error, msg interface{}) error {
	if err == nil {
		return nil
	}
	return from(err, 1).attach(fmt.Sprint(msg), caller(0))
}

// Attachf is Attach with a formatted message.
func Attachf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return from(err, 1).attach(fmt.Sprintf(format, a...), caller(0))
}

// WhileParsingTypeOf is WhileParsingType for plain errors.
func WhileParsingTypeOf[T any](err error) error {
	if err == nil {
		return nil
	}
	return from(err, 1).attach(whileParsingType(typeName[T]()), caller(0))
}

// AttachfDepth is Attachf recording the location depth frames above
// its caller, for helpers that annotate on behalf of their caller.
func AttachfDepth(err error, depth int, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return from(err, depth+1).attach(fmt.Sprintf(format, a...), caller(depth))
}
