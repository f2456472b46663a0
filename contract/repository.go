package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrContractNotFound is returned when no contract row exists for the identifier.
	ErrContractNotFound = errors.New("contract: not found")
	// ErrInvalidToken is returned when a bearer token does not resolve to a
	// contract/role pair. The message deliberately reveals nothing about
	// which part of the token space is valid.
	ErrInvalidToken = errors.New("contract: invalid token")
	// ErrDuplicateContractNumber signals the contract-number insert hit the unique index.
	ErrDuplicateContractNumber = errors.New("contract: duplicate contract number")
	// ErrContractNotSignable is returned when a signature targets a terminal-state contract.
	ErrContractNotSignable = errors.New("contract: not signable")
	// ErrContractNotCancellable is returned when cancellation targets a terminal-state contract.
	ErrContractNotCancellable = errors.New("contract: not cancellable")
	// ErrVersionLocked is returned when a version append arrives after a signature exists.
	ErrVersionLocked = errors.New("contract: versions are locked once signed")
	// ErrCreationFailed signals creation exhausted its contract-number retries.
	ErrCreationFailed = errors.New("contract: creation failed")
)

// Patch enumerates the mutable fields of a contract row. Only non-nil fields
// are written; SQL is assembled from a fixed clause per field with numbered
// arguments, never from interpolated values.
type Patch struct {
	Status          *Status
	SentAt          *time.Time // set-once: applied through COALESCE
	ClientSignedAt  *time.Time
	SpeakerSignedAt *time.Time
	CompletedAt     *time.Time
	Metadata        map[string]any
}

// ListFilters narrows and pages contract listings.
type ListFilters struct {
	Status      Status
	ClientEmail string
	EventAfter  *time.Time
	EventBefore *time.Time
	Page        int
	PageSize    int
}

// Repository defines the persistence operations the contract service needs.
// Transaction-scoped methods take the caller's pgx.Tx so a signature write,
// signature-set read, and status write commit or roll back together.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	ContractNumberExists(ctx context.Context, tx pgx.Tx, number string) (bool, error)
	GetByID(ctx context.Context, id string) (Record, error)
	GetByDealID(ctx context.Context, dealID string) (Record, error)
	GetByToken(ctx context.Context, token string) (Record, TokenRole, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	ApplyPatch(ctx context.Context, tx pgx.Tx, id string, patch Patch) (Record, error)
	UpsertSignature(ctx context.Context, tx pgx.Tx, sig Signature) (Signature, error)
	ListSignatures(ctx context.Context, tx pgx.Tx, contractID string) (SignatureSet, error)
	AppendVersion(ctx context.Context, tx pgx.Tx, contractID, termsText, changeSummary string) (Version, error)
	List(ctx context.Context, filters ListFilters) ([]Record, int, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `
id, deal_id::text, contract_number, title, modality, status::text,
fee_amount, payment_terms, currency,
event_title, event_date, event_location, event_type,
client_name, client_email, client_company,
speaker_name, speaker_email, speaker_fee,
access_token, client_signing_token, speaker_signing_token,
generated_at, sent_at, client_signed_at, speaker_signed_at, completed_at, expires_at,
metadata, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var metadata []byte
	err := row.Scan(
		&rec.ID, &rec.DealID, &rec.ContractNumber, &rec.Title, &rec.Modality, &rec.Status,
		&rec.Terms.FeeAmount, &rec.Terms.PaymentTerms, &rec.Terms.Currency,
		&rec.Event.Title, &rec.Event.Date, &rec.Event.Location, &rec.Event.Type,
		&rec.Client.Name, &rec.Client.Email, &rec.Client.Company,
		&rec.Speaker.Name, &rec.Speaker.Email, &rec.Speaker.Fee,
		&rec.Tokens.Access, &rec.Tokens.ClientSigning, &rec.Tokens.SpeakerSigning,
		&rec.GeneratedAt, &rec.SentAt, &rec.ClientSignedAt, &rec.SpeakerSignedAt, &rec.CompletedAt, &rec.ExpiresAt,
		&metadata, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("contract: decode metadata: %w", err)
		}
	}
	return rec, nil
}

// Create inserts the draft row inside the caller's transaction. A unique
// violation on contract_number maps to ErrDuplicateContractNumber so the
// caller can regenerate and retry.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return Record{}, fmt.Errorf("contract: marshal metadata: %w", err)
	}

	insertSQL := `
INSERT INTO contracts (
    id, deal_id, contract_number, title, modality, status,
    fee_amount, payment_terms, currency,
    event_title, event_date, event_location, event_type,
    client_name, client_email, client_company,
    speaker_name, speaker_email, speaker_fee,
    access_token, client_signing_token, speaker_signing_token,
    generated_at, expires_at, metadata
) VALUES (
    $1, $2, $3, $4, $5, 'draft',
    $6, $7, $8,
    $9, $10, $11, $12,
    $13, $14, $15,
    $16, $17, $18,
    $19, $20, $21,
    $22, $23, $24
)
RETURNING ` + recordColumns

	row := tx.QueryRow(ctx, insertSQL,
		uuid.NewString(), rec.DealID, rec.ContractNumber, rec.Title, rec.Modality,
		rec.Terms.FeeAmount, rec.Terms.PaymentTerms, rec.Terms.Currency,
		rec.Event.Title, rec.Event.Date, rec.Event.Location, rec.Event.Type,
		rec.Client.Name, rec.Client.Email, rec.Client.Company,
		rec.Speaker.Name, rec.Speaker.Email, rec.Speaker.Fee,
		rec.Tokens.Access, rec.Tokens.ClientSigning, rec.Tokens.SpeakerSigning,
		rec.GeneratedAt, rec.ExpiresAt, metadata,
	)

	created, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "contract_number") {
			return Record{}, ErrDuplicateContractNumber
		}
		return Record{}, fmt.Errorf("contract: insert: %w", err)
	}
	return created, nil
}

// ContractNumberExists checks a candidate number against the unique index
// before insert. The index itself remains the hard guarantee; this check just
// lets creation pick a fresh number without aborting the transaction.
func (r *PGRepository) ContractNumberExists(ctx context.Context, tx pgx.Tx, number string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE contract_number = $1)`, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("contract: check contract number: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM contracts WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrContractNotFound
		}
		return Record{}, fmt.Errorf("contract: get by id: %w", err)
	}
	return rec, nil
}

// GetByDealID returns the newest non-cancelled contract issued for the deal.
func (r *PGRepository) GetByDealID(ctx context.Context, dealID string) (Record, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM contracts
WHERE deal_id = $1 AND status <> 'cancelled'
ORDER BY created_at DESC
LIMIT 1`, dealID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrContractNotFound
		}
		return Record{}, fmt.Errorf("contract: get by deal id: %w", err)
	}
	return rec, nil
}

// GetByToken resolves any of the three bearer tokens to its contract and
// role. Lookup failures collapse to ErrInvalidToken regardless of cause.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (Record, TokenRole, error) {
	if token == "" {
		return Record{}, "", ErrInvalidToken
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM contracts
WHERE access_token = $1 OR client_signing_token = $1 OR speaker_signing_token = $1
`, token)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, "", ErrInvalidToken
		}
		return Record{}, "", fmt.Errorf("contract: get by token: %w", err)
	}

	switch token {
	case rec.Tokens.ClientSigning:
		return rec, TokenClientSigning, nil
	case rec.Tokens.SpeakerSigning:
		return rec, TokenSpeakerSigning, nil
	default:
		return rec, TokenAccess, nil
	}
}

// GetForUpdate loads the contract row and takes its row lock, serialising
// concurrent writers of the same contract.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	row := tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrContractNotFound
		}
		return Record{}, fmt.Errorf("contract: get for update: %w", err)
	}
	return rec, nil
}

// ApplyPatch writes the non-nil patch fields in a single parameterized
// UPDATE. sent_at goes through COALESCE so a resend never resets the
// timestamp recorded at first dispatch.
func (r *PGRepository) ApplyPatch(ctx context.Context, tx pgx.Tx, id string, patch Patch) (Record, error) {
	set := []string{"updated_at = now()"}
	args := []any{}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		set = append(set, "status = "+arg(*patch.Status)+"::contract_status")
	}
	if patch.SentAt != nil {
		set = append(set, "sent_at = COALESCE(sent_at, "+arg(*patch.SentAt)+")")
	}
	if patch.ClientSignedAt != nil {
		set = append(set, "client_signed_at = "+arg(*patch.ClientSignedAt))
	}
	if patch.SpeakerSignedAt != nil {
		set = append(set, "speaker_signed_at = "+arg(*patch.SpeakerSignedAt))
	}
	if patch.CompletedAt != nil {
		set = append(set, "completed_at = "+arg(*patch.CompletedAt))
	}
	if patch.Metadata != nil {
		metadata, err := json.Marshal(patch.Metadata)
		if err != nil {
			return Record{}, fmt.Errorf("contract: marshal metadata: %w", err)
		}
		set = append(set, "metadata = "+arg(metadata)+"::jsonb")
	}

	query := fmt.Sprintf(`UPDATE contracts SET %s WHERE id = %s RETURNING %s`,
		strings.Join(set, ", "), arg(id), recordColumns)

	rec, err := scanRecord(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrContractNotFound
		}
		return Record{}, fmt.Errorf("contract: apply patch: %w", err)
	}
	return rec, nil
}

// UpsertSignature writes the active signature for (contract, signer role).
// A resubmission for the same role overwrites the prior row in place.
func (r *PGRepository) UpsertSignature(ctx context.Context, tx pgx.Tx, sig Signature) (Signature, error) {
	const upsertSQL = `
INSERT INTO signatures (
    contract_id, signer_type, signer_name, signer_email, signer_title,
    payload, method, signed_at, origin_addr, origin_agent, verified
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (contract_id, signer_type) DO UPDATE SET
    signer_name  = EXCLUDED.signer_name,
    signer_email = EXCLUDED.signer_email,
    signer_title = EXCLUDED.signer_title,
    payload      = EXCLUDED.payload,
    method       = EXCLUDED.method,
    signed_at    = EXCLUDED.signed_at,
    origin_addr  = EXCLUDED.origin_addr,
    origin_agent = EXCLUDED.origin_agent,
    verified     = EXCLUDED.verified
RETURNING id, contract_id, signer_type::text, signer_name, signer_email, signer_title,
          payload, method::text, signed_at, origin_addr, origin_agent, verified
`
	var out Signature
	err := tx.QueryRow(ctx, upsertSQL,
		sig.ContractID, sig.SignerType, sig.SignerName, sig.SignerEmail, sig.SignerTitle,
		sig.Payload, sig.Method, sig.SignedAt, sig.OriginAddr, sig.OriginAgent, sig.Verified,
	).Scan(
		&out.ID, &out.ContractID, &out.SignerType, &out.SignerName, &out.SignerEmail, &out.SignerTitle,
		&out.Payload, &out.Method, &out.SignedAt, &out.OriginAddr, &out.OriginAgent, &out.Verified,
	)
	if err != nil {
		return Signature{}, fmt.Errorf("contract: upsert signature: %w", err)
	}
	return out, nil
}

// ListSignatures returns the full current signature set for the contract,
// read inside the caller's transaction so the recompute sees every committed
// and in-transaction write.
func (r *PGRepository) ListSignatures(ctx context.Context, tx pgx.Tx, contractID string) (SignatureSet, error) {
	rows, err := tx.Query(ctx, `
SELECT id, contract_id, signer_type::text, signer_name, signer_email, signer_title,
       payload, method::text, signed_at, origin_addr, origin_agent, verified
FROM signatures
WHERE contract_id = $1
`, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: list signatures: %w", err)
	}
	defer rows.Close()

	set := SignatureSet{}
	for rows.Next() {
		var sig Signature
		if err := rows.Scan(
			&sig.ID, &sig.ContractID, &sig.SignerType, &sig.SignerName, &sig.SignerEmail, &sig.SignerTitle,
			&sig.Payload, &sig.Method, &sig.SignedAt, &sig.OriginAddr, &sig.OriginAgent, &sig.Verified,
		); err != nil {
			return nil, fmt.Errorf("contract: scan signature: %w", err)
		}
		set[sig.SignerType] = sig
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate signatures: %w", err)
	}
	return set, nil
}

// AppendVersion appends the next rendered version for the contract. Appends
// are refused once any signature exists, so the stored text always matches
// exactly what a signer reviewed.
func (r *PGRepository) AppendVersion(ctx context.Context, tx pgx.Tx, contractID, termsText, changeSummary string) (Version, error) {
	var signatureCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM signatures WHERE contract_id = $1`, contractID).Scan(&signatureCount); err != nil {
		return Version{}, fmt.Errorf("contract: count signatures: %w", err)
	}
	if signatureCount > 0 {
		return Version{}, ErrVersionLocked
	}

	const insertSQL = `
INSERT INTO contract_versions (contract_id, version_number, terms_text, change_summary)
SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3
FROM contract_versions
WHERE contract_id = $1
RETURNING id, contract_id, version_number, terms_text, change_summary, created_at
`
	var v Version
	if err := tx.QueryRow(ctx, insertSQL, contractID, termsText, changeSummary).Scan(
		&v.ID, &v.ContractID, &v.VersionNumber, &v.TermsText, &v.ChangeSummary, &v.CreatedAt,
	); err != nil {
		return Version{}, fmt.Errorf("contract: append version: %w", err)
	}
	return v, nil
}

func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d::contract_status", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.ClientEmail != "" {
		where = append(where, fmt.Sprintf("client_email = $%d", len(args)+1))
		args = append(args, filters.ClientEmail)
	}
	if filters.EventAfter != nil {
		where = append(where, fmt.Sprintf("event_date >= $%d", len(args)+1))
		args = append(args, *filters.EventAfter)
	}
	if filters.EventBefore != nil {
		where = append(where, fmt.Sprintf("event_date <= $%d", len(args)+1))
		args = append(args, *filters.EventBefore)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := `SELECT ` + recordColumns + ` FROM contracts` + whereClause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	listArgs := append(append([]any{}, args...), filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("contract: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("contract: iterate records: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contracts`+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("contract: count: %w", err)
	}

	return records, total, nil
}

// EnqueueOutbox writes a notification message into the transactional outbox
// so it commits atomically with the lifecycle change that produced it.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("contract: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("contract: enqueue outbox: %w", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
