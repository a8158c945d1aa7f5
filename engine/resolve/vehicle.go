package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/overdrivelabs/dtcpipe/engine/scoring"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
)

// resolveVehicle implements Phase D: find a canonical vehicle row by exact
// (make, model) with year-range overlap, or create one.
func resolveVehicle(ctx context.Context, pool *db.Pool, mention stagedVehicleMention) (vehicleID string, err error) {
	make_ := strings.TrimSpace(mention.Make)
	model := strings.TrimSpace(mention.Model)
	if make_ == "" || model == "" {
		return "", fmt.Errorf("resolve: vehicle mention missing make or model")
	}

	row := pool.Q(ctx).QueryRow(ctx,
		`SELECT id FROM vehicles
		 WHERE lower(make) = lower($1) AND lower(model) = lower($2)
		   AND ($3 = 0 OR year_end = 0 OR $3 <= year_end)
		   AND ($4 = 0 OR year_start = 0 OR $4 >= year_start)
		 LIMIT 1`,
		make_, model, mention.YearStart, mention.YearEnd)
	if scanErr := row.Scan(&vehicleID); scanErr == nil {
		return vehicleID, nil
	} else if scanErr != pgx.ErrNoRows {
		return "", fmt.Errorf("resolve: lookup vehicle: %w", scanErr)
	}

	vehicleID = uuid.New().String()
	_, err = pool.Q(ctx).Exec(ctx,
		`INSERT INTO vehicles (id, make, model, year_start, year_end, engine, transmission, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		vehicleID, make_, model, mention.YearStart, mention.YearEnd, mention.Engine, mention.Transmission)
	if err != nil {
		return "", fmt.Errorf("resolve: create vehicle: %w", err)
	}
	return vehicleID, nil
}

// linkVehicleToDTC records the dtc_vehicle_links junction row, idempotent
// on the (dtc_master_id, vehicle_id) pair.
func linkVehicleToDTC(ctx context.Context, pool *db.Pool, dtcMasterID, vehicleID string) error {
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO dtc_vehicle_links (dtc_master_id, vehicle_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		dtcMasterID, vehicleID)
	return err
}

// vehicleSpecificityFor classifies how a vehicle mention's context bears
// on an entity keyed to dtcCode, for Phase C's Vehicle Specificity
// component. Only mentions whose related DTC code list includes dtcCode
// (or is empty, i.e. applies document-wide) count: any such mention that
// names a model is an exact match, mentions that name only a make are a
// make-only match, and no applicable mention is OEM-agnostic. Mentions are
// not compared with each other or with any other vehicle context, so this
// never returns VehicleContradiction.
func vehicleSpecificityFor(dtcCode string, mentions []stagedVehicleMention) scoring.VehicleMatch {
	if len(mentions) == 0 {
		return scoring.VehicleAgnostic
	}
	var sawMakeOnly bool
	for _, m := range mentions {
		if !appliesToCode(m, dtcCode) {
			continue
		}
		if m.Model != "" {
			return scoring.VehicleExactMatch
		}
		sawMakeOnly = true
	}
	if sawMakeOnly {
		return scoring.VehicleMakeOnlyMatch
	}
	return scoring.VehicleAgnostic
}

func appliesToCode(m stagedVehicleMention, dtcCode string) bool {
	if len(m.RelatedDTCCodes) == 0 {
		return true
	}
	for _, c := range m.RelatedDTCCodes {
		if strings.EqualFold(c, dtcCode) {
			return true
		}
	}
	return false
}
