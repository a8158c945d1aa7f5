package resolve

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/overdrivelabs/dtcpipe/engine/scoring"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
)

// RankedCauses reads back a DTC's possible causes in the documented
// tie-break order (score desc, evidence_count desc, avg_trust desc,
// avg_relevance desc, entity_id asc), for the out-of-scope stats
// collaborator or an API layer to present as a ranked list.
func RankedCauses(ctx context.Context, pool *db.Pool, dtcMasterID string) ([]scoring.RankedEntity, error) {
	return rankedRead(ctx, pool, dtcMasterID, "dtc_possible_causes")
}

// RankedSteps reads back a DTC's diagnostic steps in the same tie-break
// order as RankedCauses.
func RankedSteps(ctx context.Context, pool *db.Pool, dtcMasterID string) ([]scoring.RankedEntity, error) {
	return rankedRead(ctx, pool, dtcMasterID, "dtc_diagnostic_steps")
}

func rankedRead(ctx context.Context, pool *db.Pool, dtcMasterID, table string) ([]scoring.RankedEntity, error) {
	rows, err := pool.Q(ctx).Query(ctx,
		fmt.Sprintf(`SELECT id, score, evidence_count, avg_trust, avg_relevance FROM %s WHERE dtc_master_id = $1`, table),
		dtcMasterID)
	if err != nil {
		return nil, fmt.Errorf("resolve: ranked read %s: %w", table, err)
	}
	defer rows.Close()

	var out []scoring.RankedEntity
	for rows.Next() {
		var e scoring.RankedEntity
		if err := rows.Scan(&e.EntityID, &e.Score, &e.EvidenceCount, &e.AvgTrust, &e.AvgRelevance); err != nil {
			return nil, fmt.Errorf("resolve: ranked read %s: %w", table, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve: ranked read %s: %w", table, err)
	}

	// The query has no ORDER BY: SortEntities applies the full tie-break
	// chain so two runs over identical rows always produce identical order.
	scoring.SortEntities(out)
	return out, nil
}
