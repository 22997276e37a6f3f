// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/picsync/internal/logging"
)

// Runner is a worker entry point: blocks until done or ctx cancel.
type Runner interface {
	Run(ctx context.Context) error
}

// WorkerService supervises a long-running worker (the change monitor). A
// returned error restarts it under the tree's failure policy.
type WorkerService struct {
	name   string
	runner Runner
}

func NewWorkerService(name string, runner Runner) *WorkerService {
	return &WorkerService{name: name, runner: runner}
}

func (s *WorkerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *WorkerService) String() string {
	return s.name
}

// OneShotService runs a worker exactly once (bulk backfill, debug fetch).
// Completion, success or failure, removes it from the tree instead of
// restarting, and a configured callback lets main exit once the run ends.
type OneShotService struct {
	name   string
	runner Runner
	done   func(err error)
}

// NewOneShotService wraps runner; done may be nil.
func NewOneShotService(name string, runner Runner, done func(err error)) *OneShotService {
	return &OneShotService{name: name, runner: runner, done: done}
}

func (s *OneShotService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Str("service", s.name).Msg("one-shot service failed")
	}
	if s.done != nil {
		s.done(err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return suture.ErrDoNotRestart
}

func (s *OneShotService) String() string {
	return s.name
}
