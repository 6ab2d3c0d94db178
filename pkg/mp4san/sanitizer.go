// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4san validates untrusted ISO-BMFF files and exposes
// the decoded box tree for inspection and rewriting.
package mp4san

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"mediasan/pkg/log"
	"mediasan/pkg/mp4"
	"mediasan/pkg/report"
	"mediasan/pkg/verdict"

	"github.com/zeebo/blake3"
)

const logSource = "mp4san"

// ErrNoVerdictDB is returned by verdict lookups when
// Config.VerdictDB is unset.
var ErrNoVerdictDB = errors.New("verdict database not configured")

// Sanitizer parses input with a fixed configuration.
type Sanitizer struct {
	config   Config
	logger   *log.Logger
	verdicts *verdict.Store
}

// New returns a Sanitizer. The config is validated and zero values
// are replaced by defaults. logger may be nil, otherwise it must be
// started before parsing. If Config.VerdictDB is set the database is
// opened and closed when ctx is canceled, wg is done after that.
func New(ctx context.Context, wg *sync.WaitGroup, config Config, logger *log.Logger) (*Sanitizer, error) {
	if err := config.fillAndValidate(); err != nil {
		return nil, err
	}
	s := &Sanitizer{
		config: config,
		logger: logger,
	}
	if config.VerdictDB == "" {
		return s, nil
	}

	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	s.verdicts = verdict.NewStore(config.VerdictDB, wg)
	if err := s.verdicts.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var defaultSanitizer = &Sanitizer{config: DefaultConfig()}

// Parse parses data with the default configuration.
func Parse(data []byte) (*Tree, error) {
	return defaultSanitizer.Parse(data)
}

// ParseReader reads r to the end and parses it with the default configuration.
func ParseReader(r io.Reader) (*Tree, error) {
	return defaultSanitizer.ParseReader(r)
}

// Config returns the configuration in use.
func (s *Sanitizer) Config() Config {
	return s.config
}

// ParseReader reads r to the end and parses the result.
// Reading more than Config.MaxInputSize bytes fails.
func (s *Sanitizer) ParseReader(r io.Reader) (*Tree, error) {
	limit := s.config.MaxInputSize
	if limit < math.MaxInt64 {
		limit++
	}
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, &IOError{Err: err}
	}
	if int64(len(data)) > s.config.MaxInputSize {
		err := fmt.Errorf("%w: more than %d bytes", ErrInputTooLarge, s.config.MaxInputSize)
		return nil, &IOError{Err: err}
	}
	return s.Parse(data)
}

// Parse parses data as a sequence of boxes. The returned
// tree aliases data. Every error is a *ParseError.
func (s *Sanitizer) Parse(data []byte) (*Tree, error) {
	var inputID string
	if s.logger != nil || s.verdicts != nil {
		inputID = InputID(data)
	}

	parser := mp4.Parser{
		MaxDepth:      s.config.MaxDepth,
		RejectUnknown: s.config.UnknownBoxes == UnknownReject,
	}
	if s.logger != nil {
		parser.OnUnknown = func(h mp4.BoxHeader) {
			s.logger.Debug().Src(logSource).Input(inputID).
				Msgf("passing through unknown box %q", h.Type.String())
		}
	}

	boxes, err := parser.Parse(data)
	if err != nil {
		r := report.From(err)
		if s.logger != nil {
			s.logger.Error().Src(logSource).Input(inputID).Msgf("rejected: %+v", r)
		}
		s.saveVerdict(verdict.Verdict{
			Input:  inputID,
			Size:   len(data),
			Reason: r.Error(),
		})
		return nil, &ParseError{Report: r}
	}

	n := countBoxes(boxes)
	if s.logger != nil {
		s.logger.Info().Src(logSource).Input(inputID).Msgf("accepted %d boxes", n)
	}
	s.saveVerdict(verdict.Verdict{
		Input:    inputID,
		Size:     len(data),
		Accepted: true,
		Boxes:    n,
	})
	return &Tree{Boxes: boxes}, nil
}

// A verdict that can't be saved is logged, the parse result stands.
func (s *Sanitizer) saveVerdict(v verdict.Verdict) {
	if s.verdicts == nil {
		return
	}
	v.Time = log.UnixMicro(time.Now().UnixMicro())
	if err := s.verdicts.Save(v); err != nil && s.logger != nil {
		s.logger.Error().Src(logSource).Input(v.Input).Msgf("could not save verdict: %v", err)
	}
}

// Verdict returns the latest verdict recorded for inputID.
func (s *Sanitizer) Verdict(inputID string) (verdict.Verdict, error) {
	if s.verdicts == nil {
		return verdict.Verdict{}, ErrNoVerdictDB
	}
	return s.verdicts.Get(inputID)
}

// RecentVerdicts returns recorded verdicts matching q, newest first.
func (s *Sanitizer) RecentVerdicts(q verdict.Query) ([]verdict.Verdict, error) {
	if s.verdicts == nil {
		return nil, ErrNoVerdictDB
	}
	return s.verdicts.Recent(q)
}

// InputID returns a short content hash identifying data in logs.
func InputID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
