package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractflow/notify"
	"contractflow/render"
)

const (
	expiryWindow         = 90 * 24 * time.Hour
	numberRetryAttempts  = 3
	defaultCurrency      = "USD"
	defaultPaymentTerms  = "Net 30 days from event date"
	initialChangeSummary = "Initial contract issued"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service coordinates validation, token issuance, rendering, persistence and
// the signature lifecycle. All writes to one contract happen under its row
// lock inside a single transaction.
type Service struct {
	pool   TxBeginner
	repo   Repository
	tokens *TokenIssuer
	now    func() time.Time
	logger *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	return &Service{
		pool:   pool,
		repo:   repo,
		tokens: NewTokenIssuer(now),
		now:    now,
		logger: logger,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.tokens = NewTokenIssuer(now)
	return s
}

// Create validates the request, mints identifiers, persists the draft record
// and its first rendered version, and enqueues the creation notification.
// Contract-number collisions are retried a bounded number of times with a
// fresh number before creation fails outright.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	if result := Validate(params, s.now()); !result.Valid {
		return Record{}, &ValidationError{Messages: result.Errors}
	}

	var lastErr error
	for attempt := 0; attempt < numberRetryAttempts; attempt++ {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return Record{}, fmt.Errorf("contract: begin tx: %w", err)
		}

		rec, err := s.CreateTx(ctx, tx, params)
		if err != nil {
			tx.Rollback(ctx)
			if errors.Is(err, ErrDuplicateContractNumber) {
				lastErr = err
				s.logger.Warn("contract number collision, retrying", zap.Int("attempt", attempt+1))
				continue
			}
			return Record{}, err
		}

		if err := tx.Commit(ctx); err != nil {
			return Record{}, fmt.Errorf("contract: commit create: %w", err)
		}
		s.logger.Info("contract created",
			zap.String("contract_id", rec.ID),
			zap.String("contract_number", rec.ContractNumber),
			zap.String("modality", rec.Modality))
		return rec, nil
	}
	return Record{}, fmt.Errorf("%w: %v", ErrCreationFailed, lastErr)
}

// CreateTx performs a single creation attempt inside the caller's
// transaction: mint number and tokens, insert the draft row, append version 1
// with the rendered terms, and enqueue the creation notification. Input is
// assumed validated.
func (s *Service) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Record, error) {
	number, err := s.tokens.NewContractNumber()
	if err != nil {
		return Record{}, err
	}
	taken, err := s.repo.ContractNumberExists(ctx, tx, number)
	if err != nil {
		return Record{}, err
	}
	if taken {
		return Record{}, ErrDuplicateContractNumber
	}

	tokens, err := s.tokens.NewTokenSet()
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	rec := Record{
		DealID:         params.DealID,
		ContractNumber: number,
		Title:          params.Title,
		Modality:       string(render.ModalityForEventType(params.Event.Type)),
		Status:         StatusDraft,
		Terms: Terms{
			FeeAmount:    params.FeeAmount,
			PaymentTerms: orDefault(params.PaymentTerms, defaultPaymentTerms),
			Currency:     orDefault(params.Currency, defaultCurrency),
		},
		Event:       params.Event,
		Client:      params.Client,
		Speaker:     params.Speaker,
		Tokens:      tokens,
		GeneratedAt: now,
		ExpiresAt:   now.Add(expiryWindow),
		Metadata:    params.Metadata,
	}
	if rec.Title == "" {
		rec.Title = "Speaking Engagement: " + params.Event.Title
	}
	if params.AdditionalTerms != "" {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		rec.Metadata["additional_terms"] = params.AdditionalTerms
	}

	created, err := s.repo.Create(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}

	rendered, err := s.Render(created)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.repo.AppendVersion(ctx, tx, created.ID, rendered.Text, initialChangeSummary); err != nil {
		return Record{}, err
	}

	msg := notify.Message{
		ContractID:     created.ID,
		ContractNumber: created.ContractNumber,
		Recipient:      created.Client.Email,
		Subject:        notify.SubjectFor(notify.TopicContractCreated, created.ContractNumber),
		Text:           rendered.Text,
		HTML:           rendered.HTML,
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, notify.TopicContractCreated, msg.Payload()); err != nil {
		return Record{}, err
	}

	return created, nil
}

// Render produces the canonical text and HTML preview for the record. It is
// a pure function of the record's frozen snapshot: identical records yield
// byte-identical output.
func (s *Service) Render(rec Record) (render.Rendered, error) {
	return render.Render(
		render.TemplateForModality(render.Modality(rec.Modality)),
		snapshotOf(rec),
	)
}

// DispatchForSignature moves a draft to sent and enqueues the signing
// notification. Repeat calls on an already-sent contract re-enqueue the
// notification but never reset sent_at.
func (s *Service) DispatchForSignature(ctx context.Context, contractID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if err := ValidateTransition(rec.Status, StatusSent); err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	status := StatusSent
	updated, err := s.repo.ApplyPatch(ctx, tx, rec.ID, Patch{Status: &status, SentAt: &now})
	if err != nil {
		return Record{}, err
	}

	rendered, err := s.Render(updated)
	if err != nil {
		return Record{}, err
	}
	msg := notify.Message{
		ContractID:     updated.ID,
		ContractNumber: updated.ContractNumber,
		Recipient:      updated.Client.Email,
		Subject:        notify.SubjectFor(notify.TopicContractDispatched, updated.ContractNumber),
		Text:           rendered.Text,
		HTML:           rendered.HTML,
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, notify.TopicContractDispatched, msg.Payload()); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit dispatch: %w", err)
	}
	s.logger.Info("contract dispatched for signature",
		zap.String("contract_id", updated.ID),
		zap.String("contract_number", updated.ContractNumber))
	return updated, nil
}

// RecordSignature upserts the signature for one signer role and recomputes
// the aggregate status from the full signature set, all under the contract's
// row lock so concurrent client and speaker submissions converge.
func (s *Service) RecordSignature(ctx context.Context, contractID string, signerType SignerType, details SignerDetails, payload string, method SignatureMethod, origin OriginMetadata) (SignatureResult, error) {
	if signerType != SignerClient && signerType != SignerSpeaker && signerType != SignerAdmin {
		return SignatureResult{}, fmt.Errorf("contract: unknown signer type %q", signerType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return SignatureResult{}, err
	}
	if !Signable(rec.Status) {
		return SignatureResult{}, ErrContractNotSignable
	}

	now := s.now().UTC()
	sig, err := s.repo.UpsertSignature(ctx, tx, Signature{
		ContractID:  rec.ID,
		SignerType:  signerType,
		SignerName:  details.Name,
		SignerEmail: details.Email,
		SignerTitle: details.Title,
		Payload:     payload,
		Method:      method,
		SignedAt:    now,
		OriginAddr:  origin.Address,
		OriginAgent: origin.Client,
		Verified:    true,
	})
	if err != nil {
		return SignatureResult{}, err
	}

	set, err := s.repo.ListSignatures(ctx, tx, rec.ID)
	if err != nil {
		return SignatureResult{}, err
	}
	next := set.Recompute(rec.Status)

	patch := Patch{Status: &next}
	switch signerType {
	case SignerClient:
		patch.ClientSignedAt = &now
	case SignerSpeaker:
		patch.SpeakerSignedAt = &now
	}
	if next == StatusFullyExecuted && rec.CompletedAt == nil {
		patch.CompletedAt = &now
	}

	updated, err := s.repo.ApplyPatch(ctx, tx, rec.ID, patch)
	if err != nil {
		return SignatureResult{}, err
	}

	topic := notify.TopicContractSigned
	if next == StatusFullyExecuted {
		topic = notify.TopicContractExecuted
	}
	msg := notify.Message{
		ContractID:     updated.ID,
		ContractNumber: updated.ContractNumber,
		Recipient:      updated.Client.Email,
		Subject:        notify.SubjectFor(topic, updated.ContractNumber),
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, topic, msg.Payload()); err != nil {
		return SignatureResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SignatureResult{}, fmt.Errorf("contract: commit signature: %w", err)
	}
	s.logger.Info("signature recorded",
		zap.String("contract_id", updated.ID),
		zap.String("signer_type", string(signerType)),
		zap.String("status", string(updated.Status)))

	return SignatureResult{
		SignatureID:           sig.ID,
		ContractFullyExecuted: next == StatusFullyExecuted,
		Status:                updated.Status,
	}, nil
}

// RecordSignatureByToken resolves a signing token to its contract and role,
// rejecting access tokens and role mismatches, then records the signature.
func (s *Service) RecordSignatureByToken(ctx context.Context, token string, signerType SignerType, details SignerDetails, payload string, method SignatureMethod, origin OriginMetadata) (SignatureResult, error) {
	rec, role, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return SignatureResult{}, err
	}
	switch {
	case role == TokenClientSigning && signerType == SignerClient:
	case role == TokenSpeakerSigning && signerType == SignerSpeaker:
	default:
		return SignatureResult{}, ErrInvalidToken
	}
	return s.RecordSignature(ctx, rec.ID, signerType, details, payload, method, origin)
}

// Cancel moves a non-terminal contract to cancelled. A fully executed
// contract cannot be cancelled; cancellation is irreversible.
func (s *Service) Cancel(ctx context.Context, contractID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if err := ValidateTransition(rec.Status, StatusCancelled); err != nil {
		return Record{}, ErrContractNotCancellable
	}

	status := StatusCancelled
	updated, err := s.repo.ApplyPatch(ctx, tx, rec.ID, Patch{Status: &status})
	if err != nil {
		return Record{}, err
	}

	msg := notify.Message{
		ContractID:     updated.ID,
		ContractNumber: updated.ContractNumber,
		Recipient:      updated.Client.Email,
		Subject:        notify.SubjectFor(notify.TopicContractCancelled, updated.ContractNumber),
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, notify.TopicContractCancelled, msg.Payload()); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit cancel: %w", err)
	}
	s.logger.Info("contract cancelled", zap.String("contract_id", updated.ID))
	return updated, nil
}

// GetByToken returns the contract a bearer token resolves to together with
// the token's role. Any of the three per-contract tokens is accepted.
func (s *Service) GetByToken(ctx context.Context, token string) (Record, TokenRole, error) {
	return s.repo.GetByToken(ctx, token)
}

// GetByID returns the contract for internal callers.
func (s *Service) GetByID(ctx context.Context, contractID string) (Record, error) {
	return s.repo.GetByID(ctx, contractID)
}

// GetByDealID returns the active contract issued for a deal, if any.
func (s *Service) GetByDealID(ctx context.Context, dealID string) (Record, error) {
	return s.repo.GetByDealID(ctx, dealID)
}

// List returns a filtered page of contracts.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	return s.repo.List(ctx, filters)
}

// AppendVersion re-renders the contract and appends the result as the next
// version. Rejected once any signature exists, so every signer's reviewed
// text stays on file unchanged.
func (s *Service) AppendVersion(ctx context.Context, contractID, changeSummary string) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Version{}, err
	}
	rendered, err := s.Render(rec)
	if err != nil {
		return Version{}, err
	}
	v, err := s.repo.AppendVersion(ctx, tx, rec.ID, rendered.Text, changeSummary)
	if err != nil {
		return Version{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("contract: commit version: %w", err)
	}
	return v, nil
}

func snapshotOf(rec Record) render.Snapshot {
	additional := ""
	if v, ok := rec.Metadata["additional_terms"].(string); ok {
		additional = v
	}
	return render.Snapshot{
		ContractNumber:  rec.ContractNumber,
		GeneratedAt:     rec.GeneratedAt,
		ExpiresAt:       rec.ExpiresAt,
		ClientName:      rec.Client.Name,
		ClientCompany:   rec.Client.Company,
		ClientEmail:     rec.Client.Email,
		SpeakerName:     rec.Speaker.Name,
		SpeakerEmail:    rec.Speaker.Email,
		EventTitle:      rec.Event.Title,
		EventDate:       rec.Event.Date,
		EventLocation:   rec.Event.Location,
		EventType:       rec.Event.Type,
		FeeAmount:       rec.Terms.FeeAmount,
		Currency:        rec.Terms.Currency,
		PaymentTerms:    rec.Terms.PaymentTerms,
		AdditionalTerms: additional,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
