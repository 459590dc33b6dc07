package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

func TestRepositoryCreateStore(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	vs, err := r.CreateStore(ctx, "docs", &models.ExpiresAfter{Anchor: "last_active_at", Days: 7}, map[string]string{"env": "test"})
	if err != nil {
		t.Fatalf("CreateStore() error = %v", err)
	}
	if vs.Status != models.VectorStoreStatusInProgress {
		t.Errorf("Status = %s, want in_progress", vs.Status)
	}
	if vs.ExpiresAt != vs.LastActiveAt+7*86400 {
		t.Errorf("ExpiresAt = %d, want last_active_at + 7 days", vs.ExpiresAt)
	}
	if vs.ID == "" || vs.Object != "vector_store" {
		t.Errorf("envelope = %+v", vs)
	}

	got, err := r.GetStore(ctx, vs.ID)
	if err != nil {
		t.Fatalf("GetStore() error = %v", err)
	}
	if got.Name != "docs" || got.Metadata["env"] != "test" {
		t.Errorf("got %+v", got)
	}
}

func TestRepositoryListStoresNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	a, _ := r.CreateStore(ctx, "a", nil, nil)
	b, _ := r.CreateStore(ctx, "b", nil, nil)

	// Force distinct creation times.
	r.UpdateStore(ctx, b.ID, func(vs *models.VectorStore) { vs.CreatedAt = a.CreatedAt + 10 })

	stores, err := r.ListStores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 2 || stores[0].ID != b.ID {
		t.Errorf("order = %v", []string{stores[0].Name, stores[1].Name})
	}
}

func TestRepositoryFileCounters(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()
	vs, _ := r.CreateStore(ctx, "docs", nil, nil)

	file := &models.VectorStoreFile{ID: "file-1", Status: models.VectorStoreFileStatusInProgress}
	if err := r.AddFile(ctx, vs.ID, file); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	got, _ := r.GetStore(ctx, vs.ID)
	if got.FileCounts.Total != 1 || got.FileCounts.InProgress != 1 {
		t.Errorf("counts after add = %+v", got.FileCounts)
	}

	if err := r.SetFileStatus(ctx, vs.ID, "file-1", models.VectorStoreFileStatusCompleted, 2048, nil); err != nil {
		t.Fatalf("SetFileStatus() error = %v", err)
	}
	got, _ = r.GetStore(ctx, vs.ID)
	if got.FileCounts.InProgress != 0 || got.FileCounts.Completed != 1 {
		t.Errorf("counts after completion = %+v", got.FileCounts)
	}
	if got.UsageBytes != 2048 {
		t.Errorf("UsageBytes = %d, want 2048", got.UsageBytes)
	}

	if err := r.RemoveFile(ctx, vs.ID, "file-1"); err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	got, _ = r.GetStore(ctx, vs.ID)
	if got.FileCounts.Total != 0 || got.FileCounts.Completed != 0 || got.UsageBytes != 0 {
		t.Errorf("counts after remove = %+v usage=%d", got.FileCounts, got.UsageBytes)
	}
}

func TestRepositoryStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()
	vs, _ := r.CreateStore(ctx, "docs", nil, nil)

	r.AddFile(ctx, vs.ID, &models.VectorStoreFile{ID: "file-1", Status: models.VectorStoreFileStatusInProgress})
	r.AddFile(ctx, vs.ID, &models.VectorStoreFile{ID: "file-2", Status: models.VectorStoreFileStatusInProgress})
	got, _ := r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusInProgress {
		t.Fatalf("Status while indexing = %s, want in_progress", got.Status)
	}

	r.SetFileStatus(ctx, vs.ID, "file-1", models.VectorStoreFileStatusCompleted, 100, nil)
	got, _ = r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusInProgress {
		t.Errorf("Status with one file pending = %s, want in_progress", got.Status)
	}

	r.SetFileStatus(ctx, vs.ID, "file-2", models.VectorStoreFileStatusFailed, 0, &models.FileError{Code: "server_error"})
	got, _ = r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusCompleted {
		t.Errorf("Status with no files pending = %s, want completed", got.Status)
	}

	// A new attachment reopens the store.
	r.AddFile(ctx, vs.ID, &models.VectorStoreFile{ID: "file-3", Status: models.VectorStoreFileStatusInProgress})
	got, _ = r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusInProgress {
		t.Errorf("Status after new attachment = %s, want in_progress", got.Status)
	}

	r.RemoveFile(ctx, vs.ID, "file-3")
	got, _ = r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusCompleted {
		t.Errorf("Status after detaching pending file = %s, want completed", got.Status)
	}

	// The expired state is terminal for status aggregation.
	r.UpdateStore(ctx, vs.ID, func(s *models.VectorStore) { s.Status = models.VectorStoreStatusExpired })
	r.AddFile(ctx, vs.ID, &models.VectorStoreFile{ID: "file-4", Status: models.VectorStoreFileStatusInProgress})
	got, _ = r.GetStore(ctx, vs.ID)
	if got.Status != models.VectorStoreStatusExpired {
		t.Errorf("Status = %s, want expired to stick", got.Status)
	}
}

func TestRepositoryFailedFileKeepsError(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()
	vs, _ := r.CreateStore(ctx, "docs", nil, nil)
	r.AddFile(ctx, vs.ID, &models.VectorStoreFile{ID: "file-1", Status: models.VectorStoreFileStatusInProgress})

	ferr := &models.FileError{Code: "server_error", Message: "not utf-8"}
	if err := r.SetFileStatus(ctx, vs.ID, "file-1", models.VectorStoreFileStatusFailed, 0, ferr); err != nil {
		t.Fatal(err)
	}

	file, err := r.GetFile(ctx, vs.ID, "file-1")
	if err != nil {
		t.Fatal(err)
	}
	if file.Status != models.VectorStoreFileStatusFailed || file.LastError == nil || file.LastError.Code != "server_error" {
		t.Errorf("file = %+v", file)
	}
}

func TestRepositoryTouchSlidesExpiration(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()
	vs, _ := r.CreateStore(ctx, "docs", &models.ExpiresAfter{Anchor: "last_active_at", Days: 1}, nil)

	// Backdate activity, then touch: expires_at must move forward again.
	r.UpdateStore(ctx, vs.ID, func(s *models.VectorStore) {
		s.LastActiveAt = time.Now().Add(-48 * time.Hour).Unix()
	})
	stale, _ := r.GetStore(ctx, vs.ID)
	if stale.ExpiresAt > time.Now().Unix() {
		t.Fatalf("backdated store should be past expiry: %d", stale.ExpiresAt)
	}

	r.Touch(ctx, vs.ID)
	fresh, _ := r.GetStore(ctx, vs.ID)
	if fresh.ExpiresAt <= time.Now().Unix() {
		t.Errorf("touch did not slide expiration: %d", fresh.ExpiresAt)
	}
}

func TestRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	if _, err := r.GetStore(ctx, "vs_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStore() error = %v", err)
	}
	if err := r.DeleteStore(ctx, "vs_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteStore() error = %v", err)
	}
	if err := r.AddFile(ctx, "vs_missing", &models.VectorStoreFile{ID: "f"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddFile() error = %v", err)
	}
	if _, err := r.GetFile(ctx, "vs_missing", "f"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile() error = %v", err)
	}
}
