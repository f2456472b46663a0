package contract

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL and
// drives a contract through the full lifecycle against the live schema: create
// with version and outbox, dispatch, both signatures, and the version lock.
func TestLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "contracts") || !tableExists(ctx, t, pool, "signatures") || !tableExists(ctx, t, pool, "contract_versions") || !tableExists(ctx, t, pool, "outbox") {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	svc := NewService(pool, NewRepository(pool), nil)

	rec, err := svc.Create(ctx, CreateParams{
		Client: ClientSnapshot{
			Name:    "Integration Client",
			Email:   "integration-client@example.com",
			Company: "Integration Co",
		},
		Speaker: SpeakerSnapshot{
			Name:  "Integration Speaker",
			Email: "integration-speaker@example.com",
			Fee:   4000,
		},
		Event: EventSnapshot{
			Title:    "Integration Summit",
			Date:     time.Now().AddDate(0, 1, 0),
			Location: "Test Hall",
			Type:     "keynote",
		},
		FeeAmount: 5000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'contract_id' = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM signatures WHERE contract_id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM contract_versions WHERE contract_id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM contracts WHERE id = $1`, rec.ID)
	})

	// creation wrote version 1 and one outbox row
	var versionCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM contract_versions WHERE contract_id = $1`, rec.ID).Scan(&versionCount); err != nil {
		t.Fatalf("verify versions: %v", err)
	}
	if versionCount != 1 {
		t.Fatalf("expected 1 version after create, got %d", versionCount)
	}
	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = 'contract.created' AND payload->>'contract_id' = $1`, rec.ID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 contract.created outbox row, got %d", outCount)
	}

	// token lookup resolves each role against the live unique indexes
	got, role, err := svc.GetByToken(ctx, rec.Tokens.SpeakerSigning)
	if err != nil || got.ID != rec.ID || role != TokenSpeakerSigning {
		t.Fatalf("token lookup: rec=%s role=%s err=%v", got.ID, role, err)
	}

	// dispatch twice; sent_at must survive the resend
	sent, err := svc.DispatchForSignature(ctx, rec.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent.Status != StatusSent || sent.SentAt == nil {
		t.Fatalf("expected sent with sent_at, got %s %v", sent.Status, sent.SentAt)
	}
	resent, err := svc.DispatchForSignature(ctx, rec.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !resent.SentAt.Equal(*sent.SentAt) {
		t.Fatalf("resend changed sent_at: %v -> %v", sent.SentAt, resent.SentAt)
	}

	// sign as both parties through the token path
	clientResult, err := svc.RecordSignatureByToken(ctx, rec.Tokens.ClientSigning, SignerClient,
		SignerDetails{Name: "Integration Client"}, "client-sig", MethodElectronic, OriginMetadata{Address: "203.0.113.7"})
	if err != nil {
		t.Fatalf("client signature: %v", err)
	}
	if clientResult.ContractFullyExecuted || clientResult.Status != StatusPartiallySigned {
		t.Fatalf("unexpected state after client signature: %+v", clientResult)
	}

	// re-signing overwrites the same row, not a second one
	if _, err := svc.RecordSignatureByToken(ctx, rec.Tokens.ClientSigning, SignerClient,
		SignerDetails{Name: "Integration Client (corrected)"}, "client-sig-2", MethodElectronic, OriginMetadata{}); err != nil {
		t.Fatalf("client re-signature: %v", err)
	}
	var sigCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM signatures WHERE contract_id = $1`, rec.ID).Scan(&sigCount); err != nil {
		t.Fatalf("verify signatures: %v", err)
	}
	if sigCount != 1 {
		t.Fatalf("expected 1 signature row after re-sign, got %d", sigCount)
	}

	speakerResult, err := svc.RecordSignatureByToken(ctx, rec.Tokens.SpeakerSigning, SignerSpeaker,
		SignerDetails{Name: "Integration Speaker"}, "speaker-sig", MethodElectronic, OriginMetadata{})
	if err != nil {
		t.Fatalf("speaker signature: %v", err)
	}
	if !speakerResult.ContractFullyExecuted || speakerResult.Status != StatusFullyExecuted {
		t.Fatalf("expected fully executed, got %+v", speakerResult)
	}

	var status string
	var completedAt *time.Time
	if err := pool.QueryRow(ctx, `SELECT status::text, completed_at FROM contracts WHERE id = $1`, rec.ID).Scan(&status, &completedAt); err != nil {
		t.Fatalf("verify contract: %v", err)
	}
	if status != "fully_executed" || completedAt == nil {
		t.Fatalf("expected fully_executed with completed_at, got %s %v", status, completedAt)
	}

	// version appends are locked once a signature exists
	if _, err := svc.AppendVersion(ctx, rec.ID, "post-signature edit"); !errors.Is(err, ErrVersionLocked) {
		t.Fatalf("expected ErrVersionLocked, got %v", err)
	}

	// executed contracts cannot be cancelled
	if _, err := svc.Cancel(ctx, rec.ID); !errors.Is(err, ErrContractNotCancellable) {
		t.Fatalf("expected ErrContractNotCancellable, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
