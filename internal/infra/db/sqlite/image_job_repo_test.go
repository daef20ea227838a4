//go:build !integration

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newRepoJob(t *testing.T, name string, product *model.ProductContext) *model.ImageJob {
	t.Helper()
	job, err := model.NewImageJob(model.NewImageJobParams{
		FileName:     name,
		OriginalPath: "pending/original/" + name,
		OriginalSize: 4096,
		MimeType:     "image/jpeg",
		Metadata:     map[string]string{"sku": "A1"},
		Brand:        &model.BrandContext{Name: "Acme"},
		Product:      product,
	})
	if err != nil {
		t.Fatal(err)
	}
	size, _ := model.NewFileSize(4096)
	if err := job.AttachSource(job.ID().String()+"/original/"+name, size); err != nil {
		t.Fatal(err)
	}
	// keep created_at strictly increasing across helper calls
	time.Sleep(2 * time.Millisecond)
	return job
}

func attachVersion(t *testing.T, job *model.ImageJob, kind model.VariantKind, recompressed bool) {
	t.Helper()
	name, err := model.EnterpriseFileName(job.AssetKey(), kind)
	if err != nil {
		t.Fatal(err)
	}
	dir := fmt.Sprintf("%s/%s", job.AssetKey(), kind.Directory())
	v, err := model.NewImageVersion(model.NewImageVersionParams{
		JobID:       job.ID(),
		Kind:        kind,
		ByteLength:  900 * model.KiB,
		StoragePath: dir + "/" + name.String(),
		FileName:    name,
		ContentHash: "deadbeef",
	})
	if err != nil {
		t.Fatal(err)
	}
	if recompressed {
		v, err = v.WithRecompressed(dir+"/compressed_"+name.String(), 100*model.KiB, 70, "cafe")
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := job.AddVersion(v); err != nil {
		t.Fatal(err)
	}
}

func TestImageJobRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip a job with versions", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		job := newRepoJob(t, "shoe.jpg", &model.ProductContext{ID: "SKU-7", Attributes: map[string]string{"size": "42"}})
		attachVersion(t, job, model.VariantMaster, false)
		attachVersion(t, job, model.VariantGrid, true)

		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, job.ID())
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		want := job.Snapshot()
		have := got.Snapshot()
		if have.FileName != want.FileName || have.Status != want.Status || have.OriginalSize != want.OriginalSize {
			t.Errorf("scalar fields differ: %+v vs %+v", have, want)
		}
		if !have.CreatedAt.Equal(want.CreatedAt.Truncate(time.Microsecond)) {
			t.Errorf("expected created_at %v, got %v", want.CreatedAt, have.CreatedAt)
		}
		if got.Product().Attributes["size"] != "42" || got.Metadata()["sku"] != "A1" || got.Brand().Name != "Acme" {
			t.Errorf("contexts not restored: %+v", have)
		}
		grid, ok := got.GetVersion(model.VariantGrid)
		if !ok || !grid.Recompressed() || grid.Quality() != 70 || grid.Size().Bytes() != 100*model.KiB {
			t.Errorf("unexpected grid version %+v", grid)
		}
		if got.AssetKey() != "SKU-7" {
			t.Errorf("expected product asset key, got %s", got.AssetKey())
		}
	})

	t.Run("should upsert and replace versions", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		job := newRepoJob(t, "bag.jpg", nil)
		attachVersion(t, job, model.VariantMaster, false)
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatal(err)
		}
		if _, err := job.TransitionTo(model.StatusCancelled); err != nil {
			t.Fatal(err)
		}
		job.ClearVersions()
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.FindByID(ctx, nil, job.ID())
		if got.Status() != model.StatusCancelled || got.Versions().Len() != 0 {
			t.Errorf("expected CANCELLED without versions, got %s/%d", got.Status(), got.Versions().Len())
		}
	})

	t.Run("should answer the status queries", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		a := newRepoJob(t, "a.jpg", nil)
		b := newRepoJob(t, "b.jpg", nil)
		c := newRepoJob(t, "c.jpg", nil)
		for _, j := range []*model.ImageJob{a, b, c} {
			if err := repo.Save(ctx, nil, j); err != nil {
				t.Fatal(err)
			}
		}
		if err := repo.UpdateStatus(ctx, nil, b.ID(), model.StatusQueued); err != nil {
			t.Fatal(err)
		}
		if err := repo.UpdateStatus(ctx, nil, c.ID(), model.StatusProcessing); err != nil {
			t.Fatal(err)
		}

		pending, err := repo.FindPending(ctx, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 2 || pending[0].ID() != a.ID() || pending[1].ID() != b.ID() {
			t.Errorf("expected a then b, got %d jobs", len(pending))
		}
		processing, _ := repo.FindByStatus(ctx, nil, model.StatusProcessing)
		if len(processing) != 1 || processing[0].ID() != c.ID() {
			t.Errorf("unexpected processing jobs %v", processing)
		}
		named, _ := repo.FindByFileName(ctx, nil, "b.jpg")
		if len(named) != 1 || named[0].Status() != model.StatusQueued {
			t.Errorf("unexpected FindByFileName result %v", named)
		}
		stats, _ := repo.GetStats(ctx, nil)
		if stats.Total != 3 || stats.ByStatus[model.StatusPending] != 1 || stats.ByStatus[model.StatusProcessing] != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		all, _ := repo.FindAll(ctx, nil, repository.ListOptions{})
		if len(all) != 3 || all[0].ID() != c.ID() {
			t.Errorf("expected newest first, got %d jobs", len(all))
		}
		page, _ := repo.FindAll(ctx, nil, repository.ListOptions{Limit: 1, Offset: 2})
		if len(page) != 1 || page[0].ID() != a.ID() {
			t.Errorf("expected the oldest job on the last page, got %v", page)
		}
	})

	t.Run("should not offer jobs whose source is still uploading", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		uploading, err := model.NewImageJob(model.NewImageJobParams{
			FileName:     "remote.jpg",
			OriginalPath: "planned/original/remote.jpg",
			MimeType:     "image/jpeg",
		})
		if err != nil {
			t.Fatal(err)
		}
		ready := newRepoJob(t, "ready.jpg", nil)
		for _, j := range []*model.ImageJob{uploading, ready} {
			if err := repo.Save(ctx, nil, j); err != nil {
				t.Fatal(err)
			}
		}

		pending, err := repo.FindPending(ctx, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID() != ready.ID() || !pending[0].SourceReady() {
			t.Errorf("expected only the stored job, got %d jobs", len(pending))
		}
		got, _ := repo.FindByID(ctx, nil, uploading.ID())
		if got.SourceReady() {
			t.Error("expected the uploading job to stay unready")
		}
	})

	t.Run("should delete the job and its versions", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		job := newRepoJob(t, "gone.jpg", nil)
		attachVersion(t, job, model.VariantPDP, false)
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, nil, job.ID()); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if ok, _ := repo.Exists(ctx, nil, job.ID()); ok {
			t.Error("expected the job to be gone")
		}
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM image_versions`).Scan(&n); err != nil || n != 0 {
			t.Errorf("expected no orphaned versions, got %d (%v)", n, err)
		}
		if err := repo.Delete(ctx, nil, job.ID()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("should roll back when the callback fails", func(t *testing.T) {
		db := openTestDB(t)
		tm := NewTxManager(db)
		repo := NewImageJobRepo(db, tm)
		job := newRepoJob(t, "rollback.jpg", nil)
		boom := errors.New("boom")
		err := tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Save(ctx, tx, job); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if ok, _ := repo.Exists(ctx, nil, job.ID()); ok {
			t.Error("expected the insert to be rolled back")
		}
	})

	t.Run("should reject foreign executors and unknown ids", func(t *testing.T) {
		db := openTestDB(t)
		repo := NewImageJobRepo(db, NewTxManager(db))
		if _, err := repo.FindByID(ctx, "not-a-tx", model.NewJobID()); !errors.Is(err, domain.ErrInvalidExecContext) {
			t.Errorf("expected ErrInvalidExecContext, got %v", err)
		}
		if _, err := repo.FindByID(ctx, nil, model.NewJobID()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.UpdateStatus(ctx, nil, model.NewJobID(), model.StatusQueued); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
