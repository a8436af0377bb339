package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
)

var membershipCols = []string{
	"id", "account_id", "membership_account_id", "repository_id",
	"role", "state", "state_changed", "created_at",
}

func membershipRow(state string) *sqlmock.Rows {
	return sqlmock.NewRows(membershipCols).
		AddRow("m-1", "alice", "org1", nil, "READ_DATA", state, time.Now(), time.Now())
}

func newMembershipService(t *testing.T) (*MembershipService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMembershipService(repositories.NewMembershipRepository(db)), mock
}

func TestInvite_FirstAttemptSucceeds(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.Invite(context.Background(), "alice", "org1", nil, models.RoleReadData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State != models.MembershipInvited {
		t.Errorf("State = %s, want INVITED", m.State)
	}
	if m.ID == "" {
		t.Error("Invite did not assign an ID")
	}
}

func TestInvite_DuplicateLiveGrant(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM memberships.*IS NOT DISTINCT FROM").
		WillReturnRows(membershipRow("MEMBER"))

	_, err := svc.Invite(context.Background(), "alice", "org1", nil, models.RoleReadData)
	if !errors.Is(err, ErrDuplicateMembership) {
		t.Errorf("err = %v, want ErrDuplicateMembership", err)
	}
}

func TestInvite_ConcurrentDuplicateResolvesToDuplicateError(t *testing.T) {
	svc, mock := newMembershipService(t)
	// The losing writer of a concurrent duplicate invite hits the unique
	// index instead of the NOT EXISTS guard; the re-read must still resolve
	// it to ErrDuplicateMembership rather than a write failure.
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_memberships_live_tuple"})
	mock.ExpectQuery("SELECT.*FROM memberships.*IS NOT DISTINCT FROM").
		WillReturnRows(membershipRow("INVITED"))

	_, err := svc.Invite(context.Background(), "alice", "org1", nil, models.RoleReadData)
	if !errors.Is(err, ErrDuplicateMembership) {
		t.Errorf("err = %v, want ErrDuplicateMembership", err)
	}
}

func TestInvite_RetriesAfterRevocationRace(t *testing.T) {
	svc, mock := newMembershipService(t)
	// First attempt loses to a row that is revoked before the re-read.
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM memberships.*IS NOT DISTINCT FROM").
		WillReturnRows(sqlmock.NewRows(membershipCols))
	// Second attempt succeeds.
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.Invite(context.Background(), "alice", "org1", nil, models.RoleReadData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.State != models.MembershipInvited {
		t.Fatalf("membership = %+v, want INVITED", m)
	}
}

func TestInvite_RetriesExhausted(t *testing.T) {
	svc, mock := newMembershipService(t)
	for i := 0; i < inviteAttempts; i++ {
		mock.ExpectExec("INSERT INTO memberships").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT.*FROM memberships.*IS NOT DISTINCT FROM").
			WillReturnRows(sqlmock.NewRows(membershipCols))
	}

	_, err := svc.Invite(context.Background(), "alice", "org1", nil, models.RoleReadData)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if errors.Is(err, ErrDuplicateMembership) {
		t.Error("exhausted retries should not report a duplicate")
	}
}

func TestInvite_RepositoryScoped(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectExec("INSERT INTO memberships").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repoID := "data1"
	m, err := svc.Invite(context.Background(), "alice", "org1", &repoID, models.RoleWriteData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.RepositoryID == nil || *m.RepositoryID != "data1" {
		t.Errorf("RepositoryID = %v, want data1", m.RepositoryID)
	}
}

func TestAccept_FromInvited(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WithArgs("m-1").
		WillReturnRows(membershipRow("INVITED"))
	mock.ExpectExec("UPDATE memberships.*SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.Accept(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State != models.MembershipMember {
		t.Errorf("State = %s, want MEMBER", m.State)
	}
}

func TestAccept_FromMemberIsInvalid(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("MEMBER"))

	_, err := svc.Accept(context.Background(), "m-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAccept_NotFound(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	_, err := svc.Accept(context.Background(), "ghost")
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Errorf("err = %v, want ErrMembershipNotFound", err)
	}
}

func TestReject_FromInvited(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("INVITED"))
	mock.ExpectExec("UPDATE memberships.*SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.Reject(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State != models.MembershipRevoked {
		t.Errorf("State = %s, want REVOKED", m.State)
	}
}

func TestRevoke_FromMember(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("MEMBER"))
	mock.ExpectExec("UPDATE memberships.*SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.Revoke(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State != models.MembershipRevoked {
		t.Errorf("State = %s, want REVOKED", m.State)
	}
}

func TestRevoke_FromInvited(t *testing.T) {
	// Revoking a pending invitation is allowed; it is how invitations are
	// withdrawn.
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("INVITED"))
	mock.ExpectExec("UPDATE memberships.*SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := svc.Revoke(context.Background(), "m-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevoke_AlreadyRevoked(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("REVOKED"))

	_, err := svc.Revoke(context.Background(), "m-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateRole_OnLiveGrant(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("MEMBER"))
	mock.ExpectExec("UPDATE memberships.*SET role").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m, err := svc.UpdateRole(context.Background(), "m-1", models.RoleMaintainers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Role != models.RoleMaintainers {
		t.Errorf("Role = %s, want MAINTAINERS", m.Role)
	}
}

func TestUpdateRole_OnRevokedGrant(t *testing.T) {
	svc, mock := newMembershipService(t)
	mock.ExpectQuery("SELECT.*FROM memberships.*WHERE id").
		WillReturnRows(membershipRow("REVOKED"))

	_, err := svc.UpdateRole(context.Background(), "m-1", models.RoleMaintainers)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}
