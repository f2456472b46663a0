package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/contract"
	"contractflow/notify"
)

// Issuer creates contracts at a steady rate so the signing actors always have
// fresh rows to fight over. Validation and number-collision retries run the
// same path production does.
func Issuer(ctx context.Context, svc *contract.Service, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		params := contract.CreateParams{
			Client: contract.ClientSnapshot{
				Name:  fmt.Sprintf("Client %d", n),
				Email: fmt.Sprintf("client%d-%d@example.com", n, rand.Int63()),
			},
			Speaker: contract.SpeakerSnapshot{
				Name:  fmt.Sprintf("Speaker %d", n),
				Email: fmt.Sprintf("speaker%d@example.com", n),
				Fee:   float64(500 + rand.Intn(5000)),
			},
			Event: contract.EventSnapshot{
				Title:    fmt.Sprintf("Stress Event %d", n),
				Date:     time.Now().AddDate(0, 1, rand.Intn(60)),
				Location: "Load Test Hall",
				Type:     pick("keynote", "webinar", "workshop", "virtual"),
			},
			FeeAmount: float64(1000 + rand.Intn(20000)),
		}
		if _, err := svc.Create(ctx, params); err != nil && !benign(err) {
			return fmt.Errorf("issuer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// Dispatcher moves random drafts to sent, resending already-sent contracts on
// purpose to hammer the idempotent self-edge.
func Dispatcher(ctx context.Context, pool *pgxpool.Pool, svc *contract.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := randomContract(ctx, pool, "status IN ('draft','sent')")
		if err != nil && !benign(err) {
			return fmt.Errorf("dispatcher pick: %w", err)
		}
		if id != "" {
			if _, err := svc.DispatchForSignature(ctx, id); err != nil && !benign(err) {
				return fmt.Errorf("dispatcher: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Signer signs as one role through the token path, picking random live
// contracts. Racing client and speaker signers for the same contract is the
// whole point.
func Signer(ctx context.Context, pool *pgxpool.Pool, svc *contract.Service, signerType contract.SignerType, stop <-chan struct{}) error {
	column := "client_signing_token"
	if signerType == contract.SignerSpeaker {
		column = "speaker_signing_token"
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var token string
		err := pool.QueryRow(ctx, `
SELECT `+column+` FROM contracts
WHERE status NOT IN ('fully_executed','cancelled')
ORDER BY random() LIMIT 1`).Scan(&token)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || canceled(err) || connectionLost(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("signer pick: %w", err)
		}

		details := contract.SignerDetails{Name: string(signerType) + " stress signer"}
		_, err = svc.RecordSignatureByToken(ctx, token, signerType, details, "stress-signature", contract.MethodElectronic, contract.OriginMetadata{Address: "127.0.0.1"})
		if err != nil && !benign(err) {
			return fmt.Errorf("signer %s: %w", signerType, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Canceller occasionally cancels a live contract, racing the signers. Losing
// the race to a final signature is expected.
func Canceller(ctx context.Context, pool *pgxpool.Pool, svc *contract.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			id, err := randomContract(ctx, pool, "status NOT IN ('fully_executed','cancelled')")
			if err != nil && !benign(err) {
				return fmt.Errorf("canceller pick: %w", err)
			}
			if id != "" {
				if _, err := svc.Cancel(ctx, id); err != nil && !benign(err) {
					return fmt.Errorf("canceller: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Reader resolves random tokens the way the public contract page does.
func Reader(ctx context.Context, pool *pgxpool.Pool, svc *contract.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var token string
		err := pool.QueryRow(ctx, `SELECT access_token FROM contracts ORDER BY random() LIMIT 1`).Scan(&token)
		if err == nil {
			if _, _, err := svc.GetByToken(ctx, token); err != nil && !benign(err) {
				return fmt.Errorf("reader: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !benign(err) {
			return fmt.Errorf("reader pick: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains the notification outbox concurrently with the writers.
// SKIP LOCKED means several workers can run at once without double delivery.
func OutboxWorker(ctx context.Context, drainer *notify.Drainer, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := drainer.DrainOnce(ctx, 25); err != nil && !benign(err) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func randomContract(ctx context.Context, pool *pgxpool.Pool, where string) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM contracts WHERE `+where+` ORDER BY random() LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// benign filters the errors the actors provoke on purpose: losing a race to a
// cancel or a final signature, or a chaos-killed connection.
func benign(err error) bool {
	if err == nil || canceled(err) {
		return true
	}
	if errors.Is(err, contract.ErrContractNotSignable) ||
		errors.Is(err, contract.ErrContractNotCancellable) ||
		errors.Is(err, contract.ErrContractNotFound) ||
		errors.Is(err, contract.ErrInvalidToken) {
		return true
	}
	var invalid *contract.ErrInvalidTransition
	if errors.As(err, &invalid) {
		return true
	}
	return connectionLost(err)
}

// connectionLost matches the fallout of the chaos actor terminating backends.
func connectionLost(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin shutdown, class 08 connection exceptions
		return pgErr.Code == "57P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "connection reset")
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}
