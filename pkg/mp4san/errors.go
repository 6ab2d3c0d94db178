// SPDX-License-Identifier: GPL-2.0-or-later

package mp4san

import (
	"errors"
	"fmt"

	"mediasan/pkg/report"
)

// ErrInputTooLarge is wrapped in an *IOError when ParseReader
// stops reading at Config.MaxInputSize.
var ErrInputTooLarge = errors.New("input too large")

// IOError is returned when reading the input failed.
// It never carries parse diagnostics.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return "read input: " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the input is not a well-formed box tree.
// Report holds the terminal error and the breadcrumb trail.
type ParseError struct {
	Report *report.Report
}

func (e *ParseError) Error() string {
	return "parse input: " + e.Report.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Report
}

// Format implements fmt.Formatter, "%+v" includes the report trail.
func (e *ParseError) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('+') {
		fmt.Fprint(f, "parse input: "+e.Report.Trail())
		return
	}
	fmt.Fprint(f, e.Error())
}

// Attach adds msg to the trail of a parse error, returning err itself.
// An *IOError is returned untouched so read failures never carry parse
// diagnostics. Other errors are wrapped in a Report.
func Attach(err error, msg interface{}) error {
	return attachf(err, "%s", fmt.Sprint(msg))
}

// Attachf is Attach with a formatted message.
func Attachf(err error, format string, a ...interface{}) error {
	return attachf(err, format, a...)
}

func attachf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		_ = report.AttachfDepth(parseErr.Report, 2, format, a...)
		return err
	}
	return report.AttachfDepth(err, 2, format, a...)
}
