//go:build !integration

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
)

type pipelineFixture struct {
	repo      *memJobRepo
	storage   *memStorage
	transform *fakeTransformer
	bus       *recordingBus
	upload    *uploadImageUC
	pipeline  *processPipelineUC
}

func newPipelineFixture(analyzer adapter.ImageAnalyzer) *pipelineFixture {
	f := &pipelineFixture{
		repo:      newMemJobRepo(),
		storage:   newMemStorage(),
		transform: newFakeTransformer(),
		bus:       &recordingBus{},
	}
	f.upload = NewUploadImageUseCase(f.repo, mockTxManager{}, f.storage, &fakeFetcher{}, f.bus, 0, newTestLogger())
	f.pipeline = NewProcessPipelineUseCase(f.repo, mockTxManager{}, f.transform, f.storage, analyzer, f.bus, newTestLogger())
	return f
}

func (f *pipelineFixture) uploadShoe(t *testing.T, product *model.ProductContext) *model.ImageJob {
	t.Helper()
	job, err := f.upload.Execute(context.Background(), UploadImageInput{
		FileName: "shoe.jpg",
		Size:     5 * model.MiB,
		MimeType: "image/jpeg",
		Data:     make([]byte, 5*model.MiB),
		Product:  product,
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return job
}

func TestProcessPipeline_Completes(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(nil)
	job := f.uploadShoe(t, nil)

	res, err := f.pipeline.Execute(ctx, job.ID(), false)
	if err != nil {
		t.Fatalf("Execute: unexpected error: %v", err)
	}
	if res.Job.Status() != model.StatusCompleted {
		t.Errorf("expected COMPLETED, but got %s", res.Job.Status())
	}
	if res.Analysis != nil {
		t.Errorf("expected no analysis, got %+v", res.Analysis)
	}

	id := job.ID().String()
	want := []string{
		id + "_master_4096x4096.webp",
		id + "_grid_2048x2048.webp",
		id + "_pdp_1200x1200.webp",
		id + "_thumb_600x600.webp",
	}
	got := res.Versions.All()
	if len(got) != len(want) {
		t.Fatalf("expected %d versions, but got %d", len(want), len(got))
	}
	for i, v := range got {
		if v.FileName().String() != want[i] {
			t.Errorf("version %d: expected %s, got %s", i, want[i], v.FileName())
		}
		expectedPath := id + "/" + v.Kind().Directory() + "/" + want[i]
		if v.StoragePath() != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, v.StoragePath())
		}
		if len(v.ContentHash()) != 64 {
			t.Errorf("expected a hex sha256 hash, got %q", v.ContentHash())
		}
	}

	snap, _ := f.repo.snapshot(job.ID())
	if snap.Status != model.StatusCompleted || len(snap.Versions) != 4 {
		t.Errorf("expected persisted COMPLETED job with 4 versions, got %s with %d", snap.Status, len(snap.Versions))
	}

	wantStatuses := []model.ProcessingStatus{model.StatusQueued, model.StatusProcessing, model.StatusCompleted}
	gotStatuses := f.bus.statuses()
	if len(gotStatuses) != len(wantStatuses) {
		t.Fatalf("expected status events %v, got %v", wantStatuses, gotStatuses)
	}
	for i := range wantStatuses {
		if gotStatuses[i] != wantStatuses[i] {
			t.Errorf("expected status events %v, got %v", wantStatuses, gotStatuses)
		}
	}
	if n := f.bus.count(model.EventVersionAttached); n != 4 {
		t.Errorf("expected 4 version events, got %d", n)
	}
}

func TestProcessPipeline_FitModes(t *testing.T) {
	f := newPipelineFixture(nil)
	job := f.uploadShoe(t, nil)
	if _, err := f.pipeline.Execute(context.Background(), job.ID(), false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(f.transform.calls) != 4 {
		t.Fatalf("expected 4 transform calls, got %d", len(f.transform.calls))
	}
	wantOrder := []int{4096, 2048, 1200, 600}
	for i, c := range f.transform.calls {
		if c.TargetWidth != wantOrder[i] || c.TargetHeight != wantOrder[i] {
			t.Errorf("call %d: expected %d, got %dx%d", i, wantOrder[i], c.TargetWidth, c.TargetHeight)
		}
		wantFit := model.FitCover
		if i == 0 {
			wantFit = model.FitContain
		}
		if c.Fit != wantFit {
			t.Errorf("call %d: expected fit %s, got %s", i, wantFit, c.Fit)
		}
		if c.Format != model.FormatWebP {
			t.Errorf("call %d: expected WEBP, got %s", i, c.Format)
		}
	}
}

func TestProcessPipeline_ProductKey(t *testing.T) {
	f := newPipelineFixture(nil)
	job := f.uploadShoe(t, &model.ProductContext{ID: "SKU-42", Category: "shoes"})
	res, err := f.pipeline.Execute(context.Background(), job.ID(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	v, _ := res.Versions.Get(model.VariantThumbnail)
	if v.StoragePath() != "SKU-42/v4_thumbnail/SKU-42_thumb_600x600.webp" {
		t.Errorf("unexpected path %s", v.StoragePath())
	}
}

func TestProcessPipeline_GridFailure(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(nil)
	f.transform.failWidth = 2048
	job := f.uploadShoe(t, nil)

	_, err := f.pipeline.Execute(ctx, job.ID(), false)
	var vge *domain.VersionGenerationError
	if !errors.As(err, &vge) {
		t.Fatalf("expected *VersionGenerationError, but got %T: %v", err, err)
	}
	if vge.Variant != "V2_GRID" || vge.JobID != job.ID().String() {
		t.Errorf("expected error to name V2_GRID and the job, got %+v", vge)
	}
	if vge.Recoverable() {
		t.Error("expected version generation failures to be non-recoverable")
	}
	if !strings.Contains(err.Error(), "V2_GRID") || !strings.Contains(err.Error(), job.ID().String()) {
		t.Errorf("expected message to carry variant and job id, got %q", err.Error())
	}

	snap, _ := f.repo.snapshot(job.ID())
	if snap.Status != model.StatusFailed {
		t.Errorf("expected persisted FAILED, got %s", snap.Status)
	}
	if len(snap.Versions) != 1 || snap.Versions[0].Variant != model.VariantMaster {
		t.Errorf("expected exactly the master version persisted, got %+v", snap.Versions)
	}
	if len(f.transform.calls) != 2 {
		t.Errorf("expected the run to stop after GRID, got %d transform calls", len(f.transform.calls))
	}
}

func TestProcessPipeline_StorageFailure(t *testing.T) {
	f := newPipelineFixture(nil)
	job := f.uploadShoe(t, nil)
	f.storage.storeErr = errors.New("bucket gone")

	_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
	var vge *domain.VersionGenerationError
	if !errors.As(err, &vge) || vge.Variant != "V1_MASTER" {
		t.Fatalf("expected master generation error, got %v", err)
	}
	snap, _ := f.repo.snapshot(job.ID())
	if snap.Status != model.StatusFailed || len(snap.Versions) != 0 {
		t.Errorf("expected FAILED with no versions, got %s/%d", snap.Status, len(snap.Versions))
	}
}

func TestProcessPipeline_Recompression(t *testing.T) {
	t.Run("should replace an oversized variant with the recompressed result", func(t *testing.T) {
		f := newPipelineFixture(nil)
		f.transform.sizes[2048] = int(600 * model.KiB)
		f.transform.compressSizes[int(600*model.KiB)] = int(400 * model.KiB)
		job := f.uploadShoe(t, nil)

		res, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		v, _ := res.Versions.Get(model.VariantGrid)
		if !v.Recompressed() || v.Quality() != RecompressQuality {
			t.Errorf("expected recompressed grid at q%d, got %+v", RecompressQuality, v.Snapshot())
		}
		if v.Size().Bytes() != 400*model.KiB {
			t.Errorf("expected recorded size 400 KiB, got %d", v.Size().Bytes())
		}
		wantPath := job.ID().String() + "/v2_grid/compressed_" + job.ID().String() + "_grid_2048x2048.webp"
		if v.StoragePath() != wantPath {
			t.Errorf("expected %s, got %s", wantPath, v.StoragePath())
		}
		if ok, _ := f.storage.Exists(context.Background(), wantPath); !ok {
			t.Error("expected recompressed object to be stored")
		}
		if f.transform.compressCalls != 1 {
			t.Errorf("expected exactly one recompression, got %d", f.transform.compressCalls)
		}
	})

	t.Run("should keep the recompressed result even when still too large", func(t *testing.T) {
		f := newPipelineFixture(nil)
		f.transform.sizes[600] = int(400 * model.KiB)
		f.transform.compressSizes[int(400*model.KiB)] = int(200 * model.KiB)
		job := f.uploadShoe(t, nil)

		res, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		v, _ := res.Versions.Get(model.VariantThumbnail)
		if v.Size().Bytes() != 200*model.KiB || !v.Recompressed() {
			t.Errorf("expected recompressed 200 KiB thumbnail, got %d", v.Size().Bytes())
		}
		if v.IsWithinSizeLimit() {
			t.Error("expected the thumbnail to still exceed its ceiling")
		}
		if f.transform.compressCalls != 1 {
			t.Errorf("expected no further attempts, got %d compress calls", f.transform.compressCalls)
		}
		if res.Job.Status() != model.StatusCompleted {
			t.Errorf("expected COMPLETED, got %s", res.Job.Status())
		}
	})
}

func TestProcessPipeline_AI(t *testing.T) {
	crop := &model.CropRegion{X: 10, Y: 20, Width: 300, Height: 300}

	t.Run("should pass the suggested crop to every variant", func(t *testing.T) {
		analyzer := &fakeAnalyzer{available: true, result: &adapter.AnalysisResult{SuggestedCrop: crop, QualityScore: 0.9}}
		f := newPipelineFixture(analyzer)
		job := f.uploadShoe(t, &model.ProductContext{ID: "P1"})

		res, err := f.pipeline.Execute(context.Background(), job.ID(), true)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Analysis == nil || res.Analysis.QualityScore != 0.9 {
			t.Errorf("expected analysis in result, got %+v", res.Analysis)
		}
		if analyzer.lastReq.Product == nil || analyzer.lastReq.Product.ID != "P1" {
			t.Errorf("expected product context to reach the analyzer, got %+v", analyzer.lastReq)
		}
		for i, c := range f.transform.calls {
			if c.Extract == nil || *c.Extract != *crop {
				t.Errorf("call %d: expected crop %+v, got %+v", i, crop, c.Extract)
			}
		}
	})

	t.Run("should skip analysis when disabled", func(t *testing.T) {
		analyzer := &fakeAnalyzer{available: true, result: &adapter.AnalysisResult{SuggestedCrop: crop}}
		f := newPipelineFixture(analyzer)
		job := f.uploadShoe(t, nil)
		if _, err := f.pipeline.Execute(context.Background(), job.ID(), false); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if analyzer.calls != 0 {
			t.Errorf("expected analyzer not to be called, got %d calls", analyzer.calls)
		}
		if f.transform.calls[0].Extract != nil {
			t.Error("expected no crop")
		}
	})

	t.Run("should skip an unavailable analyzer", func(t *testing.T) {
		analyzer := &fakeAnalyzer{available: false}
		f := newPipelineFixture(analyzer)
		job := f.uploadShoe(t, nil)
		if _, err := f.pipeline.Execute(context.Background(), job.ID(), true); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if analyzer.calls != 0 {
			t.Errorf("expected analyzer not to be called, got %d calls", analyzer.calls)
		}
	})

	t.Run("should continue when the analyzer fails", func(t *testing.T) {
		analyzer := &fakeAnalyzer{available: true, err: errors.New("rate limited")}
		f := newPipelineFixture(analyzer)
		job := f.uploadShoe(t, nil)
		res, err := f.pipeline.Execute(context.Background(), job.ID(), true)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Job.Status() != model.StatusCompleted || res.Analysis != nil {
			t.Errorf("expected COMPLETED without analysis, got %s / %+v", res.Job.Status(), res.Analysis)
		}
	})
}

func TestProcessPipeline_Preconditions(t *testing.T) {
	t.Run("should fail fatally for an unknown job", func(t *testing.T) {
		f := newPipelineFixture(nil)
		_, err := f.pipeline.Execute(context.Background(), model.NewJobID(), false)
		var nf *domain.JobNotFoundError
		if !errors.As(err, &nf) || nf.Recoverable() {
			t.Errorf("expected non-recoverable JobNotFoundError, got %v", err)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Error("expected errors.Is ErrNotFound")
		}
	})

	t.Run("should refuse to re-run a completed job", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		if _, err := f.pipeline.Execute(context.Background(), job.ID(), false); err != nil {
			t.Fatalf("first run: %v", err)
		}
		_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		var ise *domain.InvalidStateError
		if !errors.As(err, &ise) || ise.From != "COMPLETED" {
			t.Errorf("expected InvalidStateError from COMPLETED, got %v", err)
		}
	})

	t.Run("should refuse a failed job until restarted", func(t *testing.T) {
		f := newPipelineFixture(nil)
		f.transform.failWidth = 600
		job := f.uploadShoe(t, nil)
		_, _ = f.pipeline.Execute(context.Background(), job.ID(), false)
		_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		if domain.CodeOf(err) != domain.CodeInvalidJobState {
			t.Errorf("expected INVALID_JOB_STATE, got %v", err)
		}
	})
}

func TestProcessPipeline_Interruptions(t *testing.T) {
	t.Run("should stop before the next variant when the context is done", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		f.transform.onProcess = func(opts adapter.TransformOptions) {
			if opts.TargetWidth == 2048 {
				cancel()
			}
		}

		_, err := f.pipeline.Execute(ctx, job.ID(), false)
		var pe *domain.PipelineError
		if !errors.As(err, &pe) || !pe.Recoverable() {
			t.Fatalf("expected recoverable PipelineError, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the cause to be context.Canceled, got %v", err)
		}
		snap, _ := f.repo.snapshot(job.ID())
		if snap.Status != model.StatusFailed || len(snap.Versions) != 2 {
			t.Errorf("expected FAILED with master and grid, got %s/%d", snap.Status, len(snap.Versions))
		}
	})

	t.Run("should honor a cancellation made during the run", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		f.transform.onProcess = func(opts adapter.TransformOptions) {
			if opts.TargetWidth == 1200 {
				_ = f.repo.UpdateStatus(context.Background(), nil, job.ID(), model.StatusCancelled)
			}
		}

		_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		if !errors.Is(err, domain.ErrJobCancelled) {
			t.Fatalf("expected ErrJobCancelled, got %v", err)
		}
		snap, _ := f.repo.snapshot(job.ID())
		if snap.Status != model.StatusCancelled {
			t.Errorf("expected job to stay CANCELLED, got %s", snap.Status)
		}
		if len(snap.Versions) != 3 {
			t.Errorf("expected the three finished versions, got %d", len(snap.Versions))
		}
	})
}

func TestProcessPipeline_Finish(t *testing.T) {
	t.Run("should fail the job when the completed save is lost", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		f.repo.failOn = model.StatusCompleted

		_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		var pe *domain.PipelineError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PipelineError, got %v", err)
		}
		snap, _ := f.repo.snapshot(job.ID())
		if snap.Status != model.StatusFailed {
			t.Errorf("expected persisted FAILED, got %s", snap.Status)
		}
		want := []model.ProcessingStatus{model.StatusQueued, model.StatusProcessing, model.StatusFailed}
		got := f.bus.statuses()
		if len(got) != len(want) {
			t.Fatalf("expected status events %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected status events %v, got %v", want, got)
			}
		}
	})

	t.Run("should not complete a job failed by someone else mid-run", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		f.transform.onProcess = func(opts adapter.TransformOptions) {
			if opts.TargetWidth == 600 {
				_ = f.repo.UpdateStatus(context.Background(), nil, job.ID(), model.StatusFailed)
			}
		}

		_, err := f.pipeline.Execute(context.Background(), job.ID(), false)
		var ise *domain.InvalidStateError
		if !errors.As(err, &ise) || ise.From != "FAILED" {
			t.Fatalf("expected InvalidStateError from FAILED, got %v", err)
		}
		snap, _ := f.repo.snapshot(job.ID())
		if snap.Status != model.StatusFailed {
			t.Errorf("expected the job to stay FAILED, got %s", snap.Status)
		}
		for _, s := range f.bus.statuses() {
			if s == model.StatusCompleted || s == model.StatusFailed {
				t.Errorf("expected no terminal event from this run, got %s", s)
			}
		}
	})
}

func TestProcessPipeline_SourceNotReady(t *testing.T) {
	f := newPipelineFixture(nil)
	job, err := model.NewImageJob(model.NewImageJobParams{
		ID:           model.NewJobID(),
		FileName:     "late.jpg",
		OriginalPath: "late/original/late.jpg",
		OriginalSize: 1024,
		MimeType:     "image/jpeg",
	})
	if err != nil {
		t.Fatalf("NewImageJob: %v", err)
	}
	if err := f.repo.Save(context.Background(), nil, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err = f.pipeline.Execute(context.Background(), job.ID(), false)
	if domain.CodeOf(err) != domain.CodeInvalidJobState {
		t.Fatalf("expected INVALID_JOB_STATE, got %v", err)
	}
	snap, _ := f.repo.snapshot(job.ID())
	if snap.Status != model.StatusPending {
		t.Errorf("expected the job to stay PENDING, got %s", snap.Status)
	}
	if len(f.transform.calls) != 0 {
		t.Errorf("expected no transform calls, got %d", len(f.transform.calls))
	}
}

func TestProcessPipeline_BrandBackground(t *testing.T) {
	f := newPipelineFixture(nil)
	job, err := f.upload.Execute(context.Background(), UploadImageInput{
		FileName: "bag.png",
		MimeType: "image/png",
		Data:     []byte("png"),
		Brand:    &model.BrandContext{Name: "Acme", Background: " #f5f5f5 "},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := f.pipeline.Execute(context.Background(), job.ID(), false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, c := range f.transform.calls {
		if c.Background == nil || *c.Background != "#f5f5f5" {
			t.Errorf("call %d: expected brand background, got %v", i, c.Background)
		}
	}

	t.Run("should leave the background transparent without a brand", func(t *testing.T) {
		f := newPipelineFixture(nil)
		job := f.uploadShoe(t, nil)
		if _, err := f.pipeline.Execute(context.Background(), job.ID(), false); err != nil {
			t.Fatal(err)
		}
		if f.transform.calls[0].Background != nil {
			t.Errorf("expected nil background, got %q", *f.transform.calls[0].Background)
		}
	})
}
