package deal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contractflow/contract"
)

var (
	// ErrDealNotAccepted is returned when contract issuance targets a deal
	// that is not in the accepted state.
	ErrDealNotAccepted = errors.New("deal: not accepted")
)

// IssueParams carries the optional overrides applied when a deal snapshot is
// projected into a contract.
type IssueParams struct {
	DealID          string
	SpeakerName     string
	SpeakerEmail    string
	SpeakerFee      float64
	PaymentTerms    string
	AdditionalTerms string
	ClientSigner    string
}

// Service projects accepted deals into the contracts domain. The deal row
// lock, the contract insert, its first version, and the outbox write all
// commit in one transaction.
type Service struct {
	pool      contract.TxBeginner
	repo      Repository
	contracts *contract.Service
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(pool contract.TxBeginner, repo Repository, contracts *contract.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pool: pool, repo: repo, contracts: contracts, now: time.Now, logger: logger}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// issueRetryAttempts bounds the contract-number regenerate-and-retry loop,
// matching direct creation.
const issueRetryAttempts = 3

// IssueContract freezes the deal's client, event and financial fields into a
// new contract. The snapshot is independent of later edits to the deal.
// Re-issuing against an already contracted deal returns its existing active
// contract instead of a second one.
func (s *Service) IssueContract(ctx context.Context, params IssueParams) (contract.Record, error) {
	if params.DealID == "" {
		return contract.Record{}, fmt.Errorf("deal: missing deal id")
	}

	var lastErr error
	for attempt := 0; attempt < issueRetryAttempts; attempt++ {
		rec, err := s.issueOnce(ctx, params)
		if err != nil {
			if errors.Is(err, contract.ErrDuplicateContractNumber) {
				lastErr = err
				s.logger.Warn("contract number collision, retrying",
					zap.String("deal_id", params.DealID),
					zap.Int("attempt", attempt+1))
				continue
			}
			return contract.Record{}, err
		}
		return rec, nil
	}
	return contract.Record{}, fmt.Errorf("%w: %v", contract.ErrCreationFailed, lastErr)
}

// issueOnce is a single issuance attempt. The deal is re-locked on every
// attempt so a retried number collision observes the deal's current state.
func (s *Service) issueOnce(ctx context.Context, params IssueParams) (contract.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return contract.Record{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, params.DealID)
	if err != nil {
		return contract.Record{}, err
	}
	if d.Status == StatusContracted {
		existing, err := s.contracts.GetByDealID(ctx, d.ID)
		if err == nil {
			s.logger.Info("deal already contracted, returning existing contract",
				zap.String("deal_id", d.ID),
				zap.String("contract_id", existing.ID))
			return existing, nil
		}
		if !errors.Is(err, contract.ErrContractNotFound) {
			return contract.Record{}, err
		}
		// Contracted but its contract was cancelled. The deal stays closed.
		return contract.Record{}, fmt.Errorf("%w: deal %s is %s", ErrDealNotAccepted, d.ID, d.Status)
	}
	if d.Status != StatusAccepted {
		return contract.Record{}, fmt.Errorf("%w: deal %s is %s", ErrDealNotAccepted, d.ID, d.Status)
	}

	// Deals with incomplete data are rejected before any identifier is
	// allocated, same as direct creation.
	createParams := snapshotParams(d, params)
	if result := contract.Validate(createParams, s.now()); !result.Valid {
		return contract.Record{}, &contract.ValidationError{Messages: result.Errors}
	}

	rec, err := s.contracts.CreateTx(ctx, tx, createParams)
	if err != nil {
		return contract.Record{}, err
	}

	if err := s.repo.MarkContracted(ctx, tx, d.ID); err != nil {
		return contract.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return contract.Record{}, fmt.Errorf("deal: commit issue: %w", err)
	}
	s.logger.Info("contract issued from deal",
		zap.String("deal_id", d.ID),
		zap.String("contract_id", rec.ID),
		zap.String("contract_number", rec.ContractNumber))
	return rec, nil
}

func snapshotParams(d Deal, params IssueParams) contract.CreateParams {
	speaker := contract.SpeakerSnapshot{
		Name:  orDefault(params.SpeakerName, d.SpeakerName),
		Email: orDefault(params.SpeakerEmail, d.SpeakerEmail),
		Fee:   params.SpeakerFee,
	}
	if speaker.Fee == 0 {
		speaker.Fee = d.SpeakerFee
	}

	clientName := d.ClientName
	if params.ClientSigner != "" {
		clientName = params.ClientSigner
	}

	dealID := d.ID
	return contract.CreateParams{
		DealID: &dealID,
		Client: contract.ClientSnapshot{
			Name:    clientName,
			Email:   d.ClientEmail,
			Company: d.ClientCompany,
		},
		Speaker: speaker,
		Event: contract.EventSnapshot{
			Title:    d.EventTitle,
			Date:     d.EventDate,
			Location: d.EventLocation,
			Type:     d.EventType,
		},
		FeeAmount:       d.FeeAmount,
		Currency:        d.Currency,
		PaymentTerms:    params.PaymentTerms,
		AdditionalTerms: params.AdditionalTerms,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
