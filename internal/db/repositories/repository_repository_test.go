package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

var repositoryCols = []string{
	"account_id", "repository_id", "title", "description", "state", "data_mode",
	"disabled", "featured", "connection_id", "created_at", "updated_at",
}

func sampleRepositoryRow() *sqlmock.Rows {
	return sqlmock.NewRows(repositoryCols).
		AddRow("org1", "data1", "Climate Observations", "", "LISTED", "OPEN",
			false, false, nil, time.Now(), time.Now())
}

func newRepositoryRepo(t *testing.T) (*RepositoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepositoryRepository(db), mock
}

func TestCreateRepository_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectExec("INSERT INTO repositories").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.Repository{
		AccountID:    "org1",
		RepositoryID: "data1",
		Title:        "Climate Observations",
		State:        models.RepositoryListed,
		DataMode:     models.DataModeOpen,
	}
	if err := repo.CreateRepository(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.CreatedAt.IsZero() {
		t.Error("CreateRepository did not stamp CreatedAt")
	}
}

func TestGetRepository_Found(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT.*FROM repositories.*WHERE account_id.*AND repository_id").
		WithArgs("org1", "data1").
		WillReturnRows(sampleRepositoryRow())

	record, err := repo.GetRepository(context.Background(), "org1", "data1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil {
		t.Fatal("expected repository, got nil")
	}
	if record.State != models.RepositoryListed || record.DataMode != models.DataModeOpen {
		t.Errorf("got state=%s mode=%s, want LISTED/OPEN", record.State, record.DataMode)
	}
}

func TestGetRepository_NotFound(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT.*FROM repositories").
		WillReturnRows(sqlmock.NewRows(repositoryCols))

	record, err := repo.GetRepository(context.Background(), "org1", "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Error("expected nil for missing repository")
	}
}

func TestUpdateRepository_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectExec("UPDATE repositories.*SET title").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.Repository{
		AccountID:    "org1",
		RepositoryID: "data1",
		Title:        "Climate Observations v2",
		State:        models.RepositoryUnlisted,
		DataMode:     models.DataModePrivate,
	}
	if err := repo.UpdateRepository(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetRepositoryDisabled_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectExec("UPDATE repositories.*SET disabled").
		WithArgs("org1", "data1", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetRepositoryDisabled(context.Background(), "org1", "data1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListRepositoriesByAccount_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT.*FROM repositories.*WHERE account_id").
		WithArgs("org1").
		WillReturnRows(sampleRepositoryRow())

	records, err := repo.ListRepositoriesByAccount(context.Background(), "org1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d repositories, want 1", len(records))
	}
}

func TestListListedRepositories_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM repositories.*ORDER BY featured DESC").
		WillReturnRows(sampleRepositoryRow())

	records, total, err := repo.ListListedRepositories(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Errorf("got %d repositories (total %d), want 1", len(records), total)
	}
}

func TestSearchRepositories_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT.*FROM repositories.*ILIKE").
		WillReturnRows(sampleRepositoryRow())

	records, err := repo.SearchRepositories(context.Background(), "climate", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d repositories, want 1", len(records))
	}
}

func TestCountRepositoriesUsingConnection_Success(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM repositories.*WHERE connection_id").
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountRepositoriesUsingConnection(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestListRepositoriesByAccount_DBError(t *testing.T) {
	repo, mock := newRepositoryRepo(t)
	mock.ExpectQuery("SELECT.*FROM repositories").
		WillReturnError(errDB)

	if _, err := repo.ListRepositoriesByAccount(context.Background(), "org1"); err == nil {
		t.Error("expected error, got nil")
	}
}
