//go:build !integration

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
)

func waitStarted(t *testing.T, f *fakePipeline) model.JobID {
	t.Helper()
	select {
	case id := <-f.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not started")
	}
	return model.JobID{}
}

func TestPipelineProcessor_Dispatch(t *testing.T) {
	t.Run("should run each pending job once with the configured timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a, b := newPendingJob(), newPendingJob()
		pipe := newFakePipeline()
		pipe.release = make(chan struct{})
		proc := NewPipelineProcessor(&pendingRepo{pending: []*model.ImageJob{a, b}}, pipe, nil,
			ProcessorConfig{JobTimeout: time.Minute, WithAI: true}, nopLogger())
		pool := NewPool(2, 0, nopLogger())
		pool.Start(ctx)
		defer pool.Stop()

		if n := proc.Dispatch(ctx, pool); n != 2 {
			t.Fatalf("expected 2 queued, got %d", n)
		}
		waitStarted(t, pipe)
		waitStarted(t, pipe)

		// both still running: a second poll must not resubmit them
		if n := proc.Dispatch(ctx, pool); n != 0 {
			t.Errorf("expected in-flight jobs to be skipped, got %d", n)
		}
		close(pipe.release)

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			proc.mu.Lock()
			left := len(proc.inFlight)
			proc.mu.Unlock()
			if left == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if pipe.count(a.ID()) != 1 || pipe.count(b.ID()) != 1 {
			t.Errorf("expected one run each, got %d and %d", pipe.count(a.ID()), pipe.count(b.ID()))
		}
		pipe.mu.Lock()
		defer pipe.mu.Unlock()
		if !pipe.sawAI {
			t.Error("expected the AI flag to be passed through")
		}
		if pipe.timeout <= 0 || pipe.timeout > time.Minute {
			t.Errorf("expected a run deadline within the job timeout, got %v", pipe.timeout)
		}
	})

	t.Run("should skip jobs claimed elsewhere", func(t *testing.T) {
		job := newPendingJob()
		pipe := newFakePipeline()
		proc := NewPipelineProcessor(&pendingRepo{}, pipe, busyLocker{}, ProcessorConfig{}, nopLogger())
		if err := proc.processOne(context.Background(), job.ID()); err != nil {
			t.Fatalf("expected a held claim to be skipped quietly, got %v", err)
		}
		if pipe.count(job.ID()) != 0 {
			t.Error("expected no pipeline run")
		}
	})

	t.Run("should treat invalid state as a lost race and surface other failures", func(t *testing.T) {
		job := newPendingJob()
		pipe := newFakePipeline()
		proc := NewPipelineProcessor(&pendingRepo{}, pipe, nil, ProcessorConfig{}, nopLogger())

		pipe.err = domain.NewInvalidStateError(job.ID().String(), "COMPLETED", "PROCESSING")
		if err := proc.processOne(context.Background(), job.ID()); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		pipe.err = domain.NewPipelineError(job.ID().String(), errors.New("disk full"))
		if err := proc.processOne(context.Background(), job.ID()); err == nil {
			t.Error("expected the pipeline error to be returned")
		}
	})

	t.Run("should tolerate repository errors", func(t *testing.T) {
		proc := NewPipelineProcessor(&pendingRepo{err: errors.New("db down")}, newFakePipeline(), nil, ProcessorConfig{}, nopLogger())
		if n := proc.Dispatch(context.Background(), NewPool(1, 0, nopLogger())); n != 0 {
			t.Errorf("expected nothing queued, got %d", n)
		}
	})
}

func TestPipelineProcessor_Execute(t *testing.T) {
	t.Run("should refuse a run while a worker holds the claim", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		job := newPendingJob()
		pipe := newFakePipeline()
		pipe.release = make(chan struct{})
		proc := NewPipelineProcessor(&pendingRepo{pending: []*model.ImageJob{job}}, pipe, nil,
			ProcessorConfig{JobTimeout: time.Minute}, nopLogger())
		pool := NewPool(1, 0, nopLogger())
		pool.Start(ctx)
		defer pool.Stop()

		if n := proc.Dispatch(ctx, pool); n != 1 {
			t.Fatalf("expected 1 queued, got %d", n)
		}
		waitStarted(t, pipe)

		_, err := proc.Execute(ctx, job.ID(), false)
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Errorf("expected ErrLockNotAcquired, got %v", err)
		}
		close(pipe.release)
		if pipe.count(job.ID()) != 1 {
			t.Errorf("expected a single run, got %d", pipe.count(job.ID()))
		}
	})

	t.Run("should release the claim after a direct run", func(t *testing.T) {
		job := newPendingJob()
		pipe := newFakePipeline()
		proc := NewPipelineProcessor(&pendingRepo{}, pipe, nil, ProcessorConfig{JobTimeout: time.Minute}, nopLogger())

		for i := 0; i < 2; i++ {
			if _, err := proc.Execute(context.Background(), job.ID(), true); err != nil {
				t.Fatalf("run %d: unexpected error: %v", i, err)
			}
			waitStarted(t, pipe)
		}
		if pipe.count(job.ID()) != 2 {
			t.Errorf("expected two sequential runs, got %d", pipe.count(job.ID()))
		}
	})
}
