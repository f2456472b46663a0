package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDealNotFound is returned when no deal row exists for the identifier.
	ErrDealNotFound = errors.New("deal: not found")
)

// Repository defines the deal reads and the single write the contract
// projection needs.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deal, error)
	MarkContracted(ctx context.Context, tx pgx.Tx, id string) error
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const dealColumns = `
id, status::text, client_name, client_email, client_company,
event_title, event_date, event_location, event_type,
fee_amount, currency, speaker_name, speaker_email, speaker_fee,
created_at, updated_at`

// GetForUpdate loads the deal and takes its row lock so acceptance is
// serialised per deal.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deal, error) {
	var d Deal
	err := tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id).Scan(
		&d.ID, &d.Status, &d.ClientName, &d.ClientEmail, &d.ClientCompany,
		&d.EventTitle, &d.EventDate, &d.EventLocation, &d.EventType,
		&d.FeeAmount, &d.Currency, &d.SpeakerName, &d.SpeakerEmail, &d.SpeakerFee,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrDealNotFound
		}
		return Deal{}, fmt.Errorf("deal: get for update: %w", err)
	}
	return d, nil
}

// MarkContracted tags the deal once a contract has been issued for it.
func (r *PGRepository) MarkContracted(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
UPDATE deals
SET status = 'contracted', updated_at = now()
WHERE id = $1 AND status = 'accepted'
`, id)
	if err != nil {
		return fmt.Errorf("deal: mark contracted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal: %s is not in accepted state", id)
	}
	return nil
}
