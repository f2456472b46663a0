package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live schema while the
// actors are writing. Any returned row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_executed_requires_both_signatures",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'fully_executed'
                    AND (SELECT COUNT(*) FROM signatures s
                         WHERE s.contract_id = c.id
                           AND s.signer_type IN ('client','speaker')) < 2`,
		},
		{
			Name: "O2_signed_status_requires_signature",
			SQL: `SELECT c.id, c.status FROM contracts c
                  WHERE c.status IN ('partially_signed','client_signed','speaker_signed')
                    AND NOT EXISTS (SELECT 1 FROM signatures s
                                    WHERE s.contract_id = c.id
                                      AND s.signer_type IN ('client','speaker'))`,
		},
		{
			Name: "O3_executed_has_completed_at",
			SQL: `SELECT id FROM contracts
                  WHERE (status = 'fully_executed' AND completed_at IS NULL)
                     OR (status <> 'fully_executed' AND completed_at IS NOT NULL)`,
		},
		{
			Name: "O4_version_numbers_gapless",
			SQL: `WITH numbered AS (
                      SELECT contract_id, version_number,
                             LAG(version_number) OVER (PARTITION BY contract_id ORDER BY version_number) AS prev
                      FROM contract_versions)
                  SELECT * FROM numbered
                  WHERE (prev IS NULL AND version_number <> 1)
                     OR (prev IS NOT NULL AND version_number <> prev + 1)`,
		},
		{
			Name: "O5_every_contract_has_initial_version",
			SQL: `SELECT c.id FROM contracts c
                  WHERE NOT EXISTS (SELECT 1 FROM contract_versions v
                                    WHERE v.contract_id = c.id AND v.version_number = 1)`,
		},
		{
			Name: "O6_tokens_distinct_within_contract",
			SQL: `SELECT id FROM contracts
                  WHERE access_token = client_signing_token
                     OR access_token = speaker_signing_token
                     OR client_signing_token = speaker_signing_token`,
		},
		{
			Name: "O7_contract_number_format",
			SQL: `SELECT id, contract_number FROM contracts
                  WHERE contract_number !~ '^CTR-\d{8}-\d{4}$'`,
		},
		{
			Name: "O8_outbox_drains",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text), or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
