// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"errors"
	"fmt"

	"mediasan/pkg/report"
)

// Parse error kinds. Decoders return them wrapped in a *report.Report,
// match them with errors.Is.
var (
	ErrTruncated         = errors.New("truncated input")
	ErrInvalidInput      = errors.New("invalid input")
	ErrExtraUnparsedData = errors.New("extra unparsed data")
	ErrUnsupportedBox    = errors.New("unsupported box")
	ErrInvalidBoxLayout  = errors.New("invalid box layout")
)

// TruncatedError reports that fewer bytes remained than a value needs.
// Value is the kind of value being read, Field the innermost field it
// belongs to once a decoder has named it.
type TruncatedError struct {
	Value string
	Field string
	Need  uint64
	Have  int
}

func (e *TruncatedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("truncated input: field `%s` (%s) needs %d bytes, %d remaining",
			e.Field, e.Value, e.Need, e.Have)
	}
	return fmt.Sprintf("truncated input: %s needs %d bytes, %d remaining", e.Value, e.Need, e.Have)
}

// Is makes errors.Is(err, ErrTruncated) true.
func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}

// truncated records the location of the read that came up short.
func truncated(value string, need uint64, have int) *report.Report {
	return report.NewDepth(&TruncatedError{Value: value, Need: need, Have: have}, 2)
}

// nameField names the field of a terminal TruncatedError,
// the innermost name sticks.
func nameField(err error, field string) error {
	var t *TruncatedError
	if errors.As(err, &t) && t.Field == "" {
		t.Field = field
	}
	return err
}

func whileParsingField(err error, typ BoxType, field string) error {
	return report.AttachfDepth(nameField(err, field), 1, "while parsing field `%s` of box `%s`", field, typ)
}

func whileParsingBox(err error, typ BoxType) error {
	return report.AttachfDepth(err, 1, "while parsing box `%s`", typ)
}

func extraUnparsedData(n int) error {
	return report.AttachfDepth(report.NewDepth(ErrExtraUnparsedData, 1), 1, "%d bytes of extra unparsed data", n)
}
