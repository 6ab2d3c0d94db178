// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (context.CancelFunc, *Logger) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewMockLogger()
	logger.Start(ctx)
	return cancel, logger
}

func TestLogger(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		cancel, logger := newTestLogger(t)
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		cases := []struct {
			event *Event
			level Level
		}{
			{logger.Error(), LevelError},
			{logger.Warn(), LevelWarning},
			{logger.Info(), LevelInfo},
			{logger.Debug(), LevelDebug},
		}
		for _, tc := range cases {
			go tc.event.Src("mp4san").Input("abcd").Msgf("%d boxes", 3)
			actual := <-feed
			require.Equal(t, tc.level, actual.Level)
			require.Equal(t, "mp4san", actual.Src)
			require.Equal(t, "abcd", actual.Input)
			require.Equal(t, "3 boxes", actual.Msg)
			require.NotZero(t, actual.Time)
		}
	})
	t.Run("time", func(t *testing.T) {
		cancel, logger := newTestLogger(t)
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go logger.Info().Time(time.UnixMicro(1234)).Msg("test")
		require.Equal(t, UnixMicro(1234), (<-feed).Time)
	})
	t.Run("unsubBeforeMsg", func(t *testing.T) {
		cancel, logger := newTestLogger(t)
		defer cancel()

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		go logger.Info().Msg("test")
		actual1 := <-feed1
		actual2, ok := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.False(t, ok)
		require.Equal(t, Log{}, actual2)
	})
	t.Run("unsubAfterMsg", func(t *testing.T) {
		cancel, logger := newTestLogger(t)
		defer cancel()

		feed, cancel2 := logger.Subscribe()

		go logger.Info().Msg("test")
		go logger.Info().Msg("test")
		go logger.Info().Msg("test")
		time.Sleep(10 * time.Microsecond)
		cancel2()

		_, ok := <-feed
		require.False(t, ok)
	})
	t.Run("msgAfterStop", func(t *testing.T) {
		wg := &sync.WaitGroup{}
		logger := NewLogger(wg)
		ctx, cancel := context.WithCancel(context.Background())
		logger.Start(ctx)
		cancel()
		wg.Wait()

		// Must not block.
		logger.Error().Msg("dropped")

		feed, cancel2 := logger.Subscribe()
		defer cancel2()
		_, ok := <-feed
		require.False(t, ok)
	})
	t.Run("logToWriter", func(t *testing.T) {
		cancel, logger := newTestLogger(t)
		defer cancel()

		ctx, cancel2 := context.WithCancel(context.Background())
		var buf bytes.Buffer
		done := make(chan struct{})
		go func() {
			logger.LogToWriter(ctx, &buf)
			close(done)
		}()

		// Wait for the subscription.
		time.Sleep(10 * time.Millisecond)
		logger.Info().Src("mp4san").Input("abcd").Msg("accepted 2 boxes")
		logger.Error().Msg("second")
		time.Sleep(10 * time.Millisecond)
		cancel2()
		<-done

		require.Equal(t, "[INFO] abcd: Mp4san: accepted 2 boxes\n[ERROR] second\n", buf.String())
	})
}

func TestFormatLog(t *testing.T) {
	cases := []struct {
		name     string
		input    Log
		expected string
	}{
		{"bare", Log{Msg: "a"}, "a"},
		{"warn", Log{Level: LevelWarning, Msg: "a"}, "[WARNING] a"},
		{"debug", Log{Level: LevelDebug, Src: "x", Msg: "a"}, "[DEBUG] X: a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, formatLog(tc.input))
		})
	}
}
