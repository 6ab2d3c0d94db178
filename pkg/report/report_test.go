// SPDX-License-Identifier: GPL-2.0-or-later

package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error display")

const testAttachment = "test attachment"

type testValue struct{}

func TestReport(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		r := New(errTest).Attach(testAttachment)
		require.Equal(t, "test error display", r.Error())
		require.Equal(t, "test error display", fmt.Sprintf("%v", r))
	})
	t.Run("location", func(t *testing.T) {
		r := New(errTest)
		require.Equal(t, "report/report_test.go", r.Location().File)
		require.NotZero(t, r.Location().Line)
	})
	t.Run("terminal", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapped: %w", io.ErrUnexpectedEOF)
		r := New(wrapped).Attach("a").Attach("b")
		require.Equal(t, wrapped, r.Get())
		require.ErrorIs(t, r, io.ErrUnexpectedEOF)

		var err error = r
		var r2 *Report
		require.True(t, errors.As(err, &r2))
		require.Same(t, r, r2)
	})
	t.Run("entries", func(t *testing.T) {
		r := New(errTest).Attach("first").Attachf("second %d", 2)
		entries := r.Entries()
		require.Len(t, entries, 2)
		require.Equal(t, "first", entries[0].Message)
		require.Equal(t, "second 2", entries[1].Message)
		require.Equal(t, "report/report_test.go", entries[1].Location.File)

		// Copy.
		entries[0].Message = "changed"
		require.Equal(t, "first", r.Entries()[0].Message)
	})
	t.Run("whileParsingType", func(t *testing.T) {
		r := WhileParsingType[testValue](New(errTest))
		require.Equal(t,
			"while parsing value of type `report.testValue`",
			r.Entries()[0].Message,
		)
	})
}

func TestReportTrail(t *testing.T) {
	t.Run("noEntries", func(t *testing.T) {
		r := New(errTest)
		trail := r.Trail()
		require.True(t, strings.HasPrefix(trail, "test error display at report/report_test.go:"))
		require.NotContains(t, trail, "\n")
	})
	t.Run("attachmentOrder", func(t *testing.T) {
		r := New(errTest)
		for i := 0; i < 5; i++ {
			r.Attachf("entry %d", i)
		}
		lines := strings.Split(fmt.Sprintf("%+v", r), "\n")
		require.Len(t, lines, 6)
		require.True(t, strings.HasPrefix(lines[0], "test error display at "))
		for i, line := range lines[1:] {
			prefix := fmt.Sprintf(" - entry %d at report/report_test.go:", i)
			require.True(t, strings.HasPrefix(line, prefix), line)
		}
	})
}

func TestAttach(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.NoError(t, Attach(nil, testAttachment))
		require.NoError(t, Attachf(nil, "%s", testAttachment))
		require.NoError(t, WhileParsingTypeOf[testValue](nil))
	})
	t.Run("wrapsPlainError", func(t *testing.T) {
		err := Attach(errTest, testAttachment)

		var r *Report
		require.True(t, errors.As(err, &r))
		require.Equal(t, errTest, r.Get())
		require.Equal(t, "report/report_test.go", r.Location().File)
		require.Len(t, r.Entries(), 1)
	})
	t.Run("keepsReport", func(t *testing.T) {
		r := New(errTest)
		err := Attach(r, "one")
		err = Attachf(err, "two %s", "2")
		err = WhileParsingTypeOf[testValue](err)

		require.Same(t, r, From(err))
		entries := r.Entries()
		require.Len(t, entries, 3)
		require.Equal(t, "one", entries[0].Message)
		require.Equal(t, "two 2", entries[1].Message)
		require.Equal(t, "while parsing value of type `report.testValue`", entries[2].Message)
	})
	t.Run("wrappedReport", func(t *testing.T) {
		r := New(errTest)
		err := fmt.Errorf("outer: %w", r)
		got := From(err)
		require.NotSame(t, r, got)
		require.Equal(t, err, got.Get())
		require.Empty(t, r.Entries())

		var inner *Report
		require.True(t, errors.As(got, &inner))
		require.Same(t, got, inner)
		require.ErrorIs(t, got, errTest)
	})
}
