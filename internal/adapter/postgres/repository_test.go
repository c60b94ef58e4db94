package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cwygoda/batchpress/internal/domain"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewRepository(db), mock, db
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

const batchID = "7d9f2c4e-1b3a-4c5d-8e6f-0a1b2c3d4e5f"

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)^INSERT\s+INTO\s+batches\s*\(user_id,\s*media_info\)\s*VALUES\s*\(\$1,\s*\$2\)\s*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`
	mock.ExpectQuery(q).
		WithArgs("alice", `{"a.jpg":{"valid":true,"progress":0,"message":null}}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(batchID, now, now))

	got, err := repo.Create(context.Background(), "alice", domain.NewMediaInfo([]string{"a.jpg"}))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != batchID || got.UserID != "alice" || !got.Valid {
		t.Fatalf("unexpected batch: %+v", got)
	}
	expectationsMet(t, mock)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+batches`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), "alice", domain.NewMediaInfo(nil))
	if err == nil || !strings.Contains(err.Error(), "insert batch: db down") {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)^SELECT\s+id,\s*user_id,\s*media_info,\s*valid,\s*message,\s*post_id,\s*created_at,\s*updated_at\s+FROM\s+batches\s+WHERE\s+id\s*=\s*\$1\s*$`
	rows := sqlmock.NewRows([]string{"id", "user_id", "media_info", "valid", "message", "post_id", "created_at", "updated_at"}).
		AddRow(batchID, "alice", `{"a.jpg":{"valid":false,"progress":40,"message":"File compression failed."}}`, false, domain.MessageBatchFailed, nil, now, now)
	mock.ExpectQuery(q).WithArgs(batchID).WillReturnRows(rows)

	got, err := repo.Get(context.Background(), batchID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Valid {
		t.Error("Valid = true, want false")
	}
	if got.Message == nil || *got.Message != domain.MessageBatchFailed {
		t.Errorf("Message = %v, want %q", got.Message, domain.MessageBatchFailed)
	}
	if got.PostID != nil {
		t.Errorf("PostID = %v, want nil", *got.PostID)
	}
	fi := got.MediaInfo["a.jpg"]
	if fi.Progress != 40 || fi.Valid || fi.Message == nil || *fi.Message != domain.MessageCompressErr {
		t.Errorf("media info = %+v", fi)
	}
	expectationsMet(t, mock)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+batches`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestUpdateMediaInfo(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	media := domain.MediaInfo{"a.jpg": {Valid: true, Progress: 50}}
	q := `(?s)^UPDATE\s+batches\s+SET\s+media_info\s*=\s*\$1,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$2\s*$`
	mock.ExpectExec(q).
		WithArgs(`{"a.jpg":{"valid":true,"progress":50,"message":null}}`, batchID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateMediaInfo(context.Background(), batchID, media); err != nil {
		t.Fatalf("UpdateMediaInfo error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateMediaInfo_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+batches`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateMediaInfo(context.Background(), batchID, domain.MediaInfo{})
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+batches\s+SET\s+media_info\s*=\s*\$1,\s*valid\s*=\s*FALSE,\s*message\s*=\s*\$2`
	mock.ExpectExec(q).
		WithArgs(sqlmock.AnyArg(), domain.MessageBatchFailed, batchID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Invalidate(context.Background(), batchID, domain.MediaInfo{}, domain.MessageBatchFailed); err != nil {
		t.Fatalf("Invalidate error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestInvalidate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+batches`).WillReturnError(errors.New("conn reset"))

	err := repo.Invalidate(context.Background(), batchID, domain.MediaInfo{}, domain.MessageBatchFailed)
	if err == nil || !strings.Contains(err.Error(), "invalidate batch: conn reset") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+batches\s+SET\s+post_id\s*=\s*\$1,\s*message\s*=\s*\$2,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$3\s*$`
	mock.ExpectExec(q).
		WithArgs("post-1", domain.MessageBatchDone, batchID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Complete(context.Background(), batchID, "post-1", domain.MessageBatchDone); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRecoverInterrupted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+batches\s+SET\s+valid\s*=\s*FALSE,\s*message\s*=\s*\$1.*WHERE\s+valid\s+AND\s+post_id\s+IS\s+NULL\s+AND\s+message\s+IS\s+NULL\s*$`
	mock.ExpectExec(q).
		WithArgs(domain.MessageInterrupted).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("RecoverInterrupted error: %v", err)
	}
	if n != 3 {
		t.Errorf("RecoverInterrupted = %d, want 3", n)
	}
	expectationsMet(t, mock)
}

func TestInsertPost(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)^INSERT\s+INTO\s+posts\s*\(author_id,\s*title,\s*media,\s*description\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING\s+id,\s*created_at\s*$`
	mock.ExpectQuery(q).
		WithArgs("alice", "trip", `["http://cdn/a.png"]`, `["beach"]`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("post-1", now))

	post := &domain.Post{AuthorID: "alice", Title: "trip", Media: []string{"http://cdn/a.png"}, Descriptions: []string{"beach"}}
	id, err := repo.InsertPost(context.Background(), post)
	if err != nil {
		t.Fatalf("InsertPost error: %v", err)
	}
	if id != "post-1" || post.ID != "post-1" {
		t.Fatalf("id = %q, post.ID = %q", id, post.ID)
	}
	expectationsMet(t, mock)
}

func TestInsertPost_EmptyLists(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+posts`).
		WithArgs("alice", "empty", `[]`, `[]`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("post-2", time.Now()))

	if _, err := repo.InsertPost(context.Background(), &domain.Post{AuthorID: "alice", Title: "empty"}); err != nil {
		t.Fatalf("InsertPost error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetPost(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "author_id", "title", "media", "description", "created_at"}).
		AddRow("post-1", "alice", "trip", []byte(`["a","b"]`), []byte(`["x","y"]`), time.Now())
	mock.ExpectQuery(`FROM\s+posts\s+WHERE\s+id\s*=\s*\$1`).WithArgs("post-1").WillReturnRows(rows)

	got, err := repo.GetPost(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("GetPost error: %v", err)
	}
	if len(got.Media) != 2 || got.Descriptions[1] != "y" {
		t.Fatalf("unexpected post: %+v", got)
	}
}

func TestGetPost_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+posts`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPost(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}
