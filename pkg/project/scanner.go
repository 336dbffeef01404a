package project

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// SkippedProject records a descriptor that failed to parse during a scan.
type SkippedProject struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanSummary reports what a completed scan found. It is only valid after
// the project sequence has been fully consumed.
type ScanSummary struct {
	Scanned int              `json:"scanned"`
	Skipped []SkippedProject `json:"skipped,omitempty"`
}

// Scanner walks a root directory for project descriptors.
type Scanner struct {
	logger zerolog.Logger
}

// NewScanner creates a scanner that logs per-project outcomes.
func NewScanner(logger zerolog.Logger) *Scanner {
	return &Scanner{
		logger: logger.With().Str("component", "project-scanner").Logger(),
	}
}

// Scan returns a lazy, single-use sequence of projects found under root,
// plus a summary that is populated as the sequence is consumed. Malformed
// descriptors are skipped and recorded in the summary rather than aborting
// the scan.
func (s *Scanner) Scan(ctx context.Context, root string) (iter.Seq[*Project], *ScanSummary, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	summary := &ScanSummary{}
	seq := func(yield func(*Project) bool) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || d.Name() != DescriptorName {
				return nil
			}

			dir := filepath.Dir(path)
			p, loadErr := Load(dir)
			if loadErr != nil {
				s.logger.Warn().
					Err(loadErr).
					Str("path", path).
					Msg("Skipping malformed project descriptor")
				summary.Skipped = append(summary.Skipped, SkippedProject{
					Path:   path,
					Reason: loadErr.Error(),
				})
				return nil
			}

			summary.Scanned++
			s.logger.Debug().
				Str("project", p.Name).
				Str("version", p.Version).
				Msg("Project discovered")

			if !yield(p) {
				return fs.SkipAll
			}
			// A descriptor marks a project root; nested descriptors
			// under it belong to test data, not separate projects.
			return fs.SkipDir
		})
		if err != nil && err != fs.SkipAll {
			s.logger.Error().Err(err).Str("root", root).Msg("Scan walk failed")
		}
	}

	return seq, summary, nil
}

// ScanAll consumes the lazy sequence eagerly and returns the full list.
func (s *Scanner) ScanAll(ctx context.Context, root string) ([]*Project, *ScanSummary, error) {
	seq, summary, err := s.Scan(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	var projects []*Project
	for p := range seq {
		projects = append(projects, p)
	}
	return projects, summary, nil
}
