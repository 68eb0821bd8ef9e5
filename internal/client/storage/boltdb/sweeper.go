package boltdb

import (
	"context"
	"errors"
	"time"

	"github.com/iudanet/dealsync/internal/client/storage"
)

// StartSweeper periodically removes expired records until Stop or Close.
// Calling it again while a sweeper runs has no effect.
func (s *Storage) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.sweepStop != nil || s.closed {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.sweepStop, s.sweepDone = stop, done
	s.mu.Unlock()

	go s.sweep(interval, stop, done)
}

// Stop останавливает sweeper goroutine
func (s *Storage) Stop() {
	s.stopSweeper()
}

func (s *Storage) stopSweeper() {
	s.mu.Lock()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop, s.sweepDone = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// sweep периодически удаляет просроченные записи
func (s *Storage) sweep(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.Sweep(context.Background())
			switch {
			case errors.Is(err, storage.ErrStorageClosed):
				return
			case err != nil:
				s.logger.Warn("Sweep failed", "error", err)
			case removed > 0:
				s.logger.Debug("Expired records removed", "count", removed)
			}
		case <-stop:
			return
		}
	}
}
