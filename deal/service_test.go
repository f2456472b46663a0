package deal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"contractflow/contract"
)

var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func acceptedDeal() Deal {
	return Deal{
		ID:            "deal-7",
		Status:        StatusAccepted,
		ClientName:    "Jordan Reyes",
		ClientEmail:   "jordan@northwind.example",
		ClientCompany: "Northwind Conferences",
		EventTitle:    "Scaling Beyond the Monolith",
		EventDate:     fixedNow.AddDate(0, 2, 0),
		EventLocation: "Austin Convention Center",
		EventType:     "keynote",
		FeeAmount:     10000,
		Currency:      "USD",
		SpeakerName:   "Dr. Priya Nair",
		SpeakerEmail:  "priya@speakers.example",
		SpeakerFee:    8000,
	}
}

func newTestService(deals *fakeDealRepo) (*Service, *fakeContractRepo, *fakePool) {
	pool := &fakePool{}
	contractRepo := newFakeContractRepo()
	contracts := contract.NewService(pool, contractRepo, nil).WithClock(func() time.Time { return fixedNow })
	svc := NewService(pool, deals, contracts, nil).WithClock(func() time.Time { return fixedNow })
	return svc, contractRepo, pool
}

func TestIssueContract_FreezesDealSnapshot(t *testing.T) {
	deals := &fakeDealRepo{deal: acceptedDeal()}
	svc, contractRepo, pool := newTestService(deals)

	rec, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	if err != nil {
		t.Fatalf("issue contract: %v", err)
	}

	if rec.DealID == nil || *rec.DealID != "deal-7" {
		t.Errorf("expected contract linked to deal-7, got %v", rec.DealID)
	}
	if rec.Client.Name != "Jordan Reyes" || rec.Client.Company != "Northwind Conferences" {
		t.Errorf("client snapshot not taken from deal: %+v", rec.Client)
	}
	if rec.Speaker.Name != "Dr. Priya Nair" || rec.Speaker.Fee != 8000 {
		t.Errorf("speaker snapshot not taken from deal: %+v", rec.Speaker)
	}
	if rec.Terms.FeeAmount != 10000 || rec.Terms.Currency != "USD" {
		t.Errorf("financial terms not taken from deal: %+v", rec.Terms)
	}
	if rec.Status != contract.StatusDraft {
		t.Errorf("expected draft status, got %s", rec.Status)
	}

	if !deals.markedContracted {
		t.Error("deal must be marked contracted in the same transaction")
	}
	if len(contractRepo.versions[rec.ID]) != 1 {
		t.Error("expected initial version appended")
	}
	if len(pool.txs) != 1 || !pool.txs[0].committed {
		t.Error("expected a single committed transaction")
	}
}

func TestIssueContract_AppliesOverrides(t *testing.T) {
	deals := &fakeDealRepo{deal: acceptedDeal()}
	svc, _, _ := newTestService(deals)

	rec, err := svc.IssueContract(context.Background(), IssueParams{
		DealID:       "deal-7",
		SpeakerName:  "Priya Nair, PhD",
		SpeakerFee:   8500,
		ClientSigner: "Morgan Alvarez",
		PaymentTerms: "50% deposit, balance net 15",
	})
	if err != nil {
		t.Fatalf("issue contract: %v", err)
	}

	if rec.Speaker.Name != "Priya Nair, PhD" || rec.Speaker.Fee != 8500 {
		t.Errorf("speaker overrides not applied: %+v", rec.Speaker)
	}
	if rec.Client.Name != "Morgan Alvarez" {
		t.Errorf("client signer override not applied: %+v", rec.Client)
	}
	if rec.Terms.PaymentTerms != "50% deposit, balance net 15" {
		t.Errorf("payment terms override not applied: %+v", rec.Terms)
	}
}

func TestIssueContract_ReusesExistingContractForContractedDeal(t *testing.T) {
	d := acceptedDeal()
	deals := &fakeDealRepo{deal: d}
	svc, contractRepo, pool := newTestService(deals)

	first, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	if err != nil {
		t.Fatalf("first issuance: %v", err)
	}
	deals.deal.Status = StatusContracted

	second, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	if err != nil {
		t.Fatalf("re-issuance against contracted deal: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the existing contract back, got %s instead of %s", second.ID, first.ID)
	}
	if len(contractRepo.contracts) != 1 {
		t.Errorf("re-issuance must not create a second contract, have %d", len(contractRepo.contracts))
	}
	if last := pool.txs[len(pool.txs)-1]; last.committed {
		t.Error("the short-circuit lookup must not commit anything")
	}
}

func TestIssueContract_RetriesNumberCollision(t *testing.T) {
	deals := &fakeDealRepo{deal: acceptedDeal()}
	svc, contractRepo, pool := newTestService(deals)
	contractRepo.numberCollisions = 2

	rec, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	if err != nil {
		t.Fatalf("issuance with collisions: %v", err)
	}
	if rec.ContractNumber == "" {
		t.Error("expected a contract number after retries")
	}
	if len(pool.txs) != 3 {
		t.Fatalf("expected one transaction per attempt, got %d", len(pool.txs))
	}
	for i, tx := range pool.txs[:2] {
		if tx.committed {
			t.Errorf("collision attempt %d must roll back", i+1)
		}
	}
	if !pool.txs[2].committed {
		t.Error("final attempt must commit")
	}
	if !deals.markedContracted {
		t.Error("deal must still be marked contracted on the successful attempt")
	}
}

func TestIssueContract_ExhaustsNumberRetries(t *testing.T) {
	deals := &fakeDealRepo{deal: acceptedDeal()}
	svc, contractRepo, _ := newTestService(deals)
	contractRepo.numberCollisions = 3

	_, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	if !errors.Is(err, contract.ErrCreationFailed) {
		t.Fatalf("expected ErrCreationFailed after exhausted retries, got %v", err)
	}
	if len(contractRepo.contracts) != 0 {
		t.Error("no contract row may survive exhausted retries")
	}
	if deals.markedContracted {
		t.Error("deal must not be marked contracted")
	}
}

func TestIssueContract_RejectsNonAcceptedDeal(t *testing.T) {
	// A contracted deal with no surviving contract stays closed.
	for _, status := range []Status{StatusOpen, StatusContracted, StatusLost} {
		d := acceptedDeal()
		d.Status = status
		deals := &fakeDealRepo{deal: d}
		svc, contractRepo, _ := newTestService(deals)

		_, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
		if !errors.Is(err, ErrDealNotAccepted) {
			t.Fatalf("status %s: expected ErrDealNotAccepted, got %v", status, err)
		}
		if len(contractRepo.contracts) != 0 {
			t.Errorf("status %s: no contract row may be created", status)
		}
		if deals.markedContracted {
			t.Errorf("status %s: deal must not be marked contracted", status)
		}
	}
}

func TestIssueContract_UnknownDeal(t *testing.T) {
	deals := &fakeDealRepo{err: ErrDealNotFound}
	svc, _, _ := newTestService(deals)

	_, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-404"})
	if !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("expected ErrDealNotFound, got %v", err)
	}
}

func TestIssueContract_IncompleteDealFailsValidation(t *testing.T) {
	d := acceptedDeal()
	d.ClientEmail = ""
	d.EventLocation = ""
	deals := &fakeDealRepo{deal: d}
	svc, contractRepo, pool := newTestService(deals)

	_, err := svc.IssueContract(context.Background(), IssueParams{DealID: "deal-7"})
	var vErr *contract.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Messages) != 2 {
		t.Errorf("expected both validation failures reported, got %v", vErr.Messages)
	}
	if len(contractRepo.contracts) != 0 {
		t.Error("validation failure must not create a contract")
	}
	if len(pool.txs) != 1 || pool.txs[0].committed {
		t.Error("the transaction must roll back")
	}
}

// --- fakes ---

type fakeDealRepo struct {
	deal             Deal
	err              error
	markedContracted bool
}

func (f *fakeDealRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deal, error) {
	if f.err != nil {
		return Deal{}, f.err
	}
	if f.deal.ID != id {
		return Deal{}, ErrDealNotFound
	}
	return f.deal, nil
}

func (f *fakeDealRepo) MarkContracted(ctx context.Context, tx pgx.Tx, id string) error {
	if f.deal.Status != StatusAccepted {
		return fmt.Errorf("deal: %s is not in accepted state", id)
	}
	f.markedContracted = true
	return nil
}

// fakeContractRepo covers only the creation path the deal projection drives.
type fakeContractRepo struct {
	contracts        map[string]contract.Record
	versions         map[string][]contract.Version
	outbox           []string
	numberCollisions int
	nextID           int
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{
		contracts: map[string]contract.Record{},
		versions:  map[string][]contract.Version{},
	}
}

func (f *fakeContractRepo) Create(ctx context.Context, tx pgx.Tx, rec contract.Record) (contract.Record, error) {
	f.nextID++
	rec.ID = fmt.Sprintf("contract-%d", f.nextID)
	f.contracts[rec.ID] = rec
	return rec, nil
}

func (f *fakeContractRepo) ContractNumberExists(ctx context.Context, tx pgx.Tx, number string) (bool, error) {
	if f.numberCollisions > 0 {
		f.numberCollisions--
		return true, nil
	}
	return false, nil
}

func (f *fakeContractRepo) GetByDealID(ctx context.Context, dealID string) (contract.Record, error) {
	for _, rec := range f.contracts {
		if rec.DealID != nil && *rec.DealID == dealID && rec.Status != contract.StatusCancelled {
			return rec, nil
		}
	}
	return contract.Record{}, contract.ErrContractNotFound
}

func (f *fakeContractRepo) AppendVersion(ctx context.Context, tx pgx.Tx, contractID, termsText, changeSummary string) (contract.Version, error) {
	v := contract.Version{
		ContractID:    contractID,
		VersionNumber: len(f.versions[contractID]) + 1,
		TermsText:     termsText,
		ChangeSummary: changeSummary,
	}
	f.versions[contractID] = append(f.versions[contractID], v)
	return v, nil
}

func (f *fakeContractRepo) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.outbox = append(f.outbox, topic)
	return nil
}

func (f *fakeContractRepo) GetByID(context.Context, string) (contract.Record, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) GetByToken(context.Context, string) (contract.Record, contract.TokenRole, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) GetForUpdate(context.Context, pgx.Tx, string) (contract.Record, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) ApplyPatch(context.Context, pgx.Tx, string, contract.Patch) (contract.Record, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) UpsertSignature(context.Context, pgx.Tx, contract.Signature) (contract.Signature, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) ListSignatures(context.Context, pgx.Tx, string) (contract.SignatureSet, error) {
	panic("not used by the deal projection")
}

func (f *fakeContractRepo) List(context.Context, contract.ListFilters) ([]contract.Record, int, error) {
	panic("not used by the deal projection")
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
