package resolve

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
)

type staging struct {
	DTCCodes []stagedDTC
	Causes   []stagedCause
	Steps    []stagedStep
	Sensors  []stagedSensor
	TSBs     []stagedTSB
	Vehicles []stagedVehicleMention
}

func loadStaging(ctx context.Context, pool *db.Pool, docID string) (staging, error) {
	var s staging
	var err error

	if s.DTCCodes, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, code, description, category, severity, trust, relevance
		 FROM staged_dtc_codes WHERE document_id = $1`,
		func(r pgx.Rows) (stagedDTC, error) {
			var d stagedDTC
			err := r.Scan(&d.ID, &d.ChunkID, &d.Code, &d.Description, &d.Category, &d.Severity, &d.Trust, &d.Relevance)
			return d, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged dtc codes: %w", err)
	}

	if s.Causes, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, dtc_code, description, likelihood, trust, relevance
		 FROM staged_causes WHERE document_id = $1`,
		func(r pgx.Rows) (stagedCause, error) {
			var c stagedCause
			err := r.Scan(&c.ID, &c.ChunkID, &c.DTCCode, &c.Description, &c.Likelihood, &c.Trust, &c.Relevance)
			return c, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged causes: %w", err)
	}

	if s.Steps, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, dtc_code, step_order, description, tools_required, expected_values, trust, relevance
		 FROM staged_diagnostic_steps WHERE document_id = $1`,
		func(r pgx.Rows) (stagedStep, error) {
			var st stagedStep
			err := r.Scan(&st.ID, &st.ChunkID, &st.DTCCode, &st.StepOrder, &st.Description, &st.ToolsRequired, &st.ExpectedValues, &st.Trust, &st.Relevance)
			return st, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged diagnostic steps: %w", err)
	}

	if s.Sensors, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, name, sensor_type, typical_range, unit, related_dtc_codes, trust, relevance
		 FROM staged_sensors WHERE document_id = $1`,
		func(r pgx.Rows) (stagedSensor, error) {
			var sn stagedSensor
			err := r.Scan(&sn.ID, &sn.ChunkID, &sn.Name, &sn.SensorType, &sn.TypicalRange, &sn.Unit, &sn.RelatedDTCCodes, &sn.Trust, &sn.Relevance)
			return sn, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged sensors: %w", err)
	}

	if s.TSBs, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, tsb_number, title, affected_models, related_dtc_codes, summary, trust, relevance
		 FROM staged_tsb_references WHERE document_id = $1`,
		func(r pgx.Rows) (stagedTSB, error) {
			var t stagedTSB
			err := r.Scan(&t.ID, &t.ChunkID, &t.TSBNumber, &t.Title, &t.AffectedModels, &t.RelatedDTCCodes, &t.Summary, &t.Trust, &t.Relevance)
			return t, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged tsb references: %w", err)
	}

	if s.Vehicles, err = loadRows(ctx, pool, docID,
		`SELECT id, chunk_id, make, model, year_start, year_end, engine, transmission, related_dtc_codes, trust, relevance
		 FROM staged_vehicle_mentions WHERE document_id = $1`,
		func(r pgx.Rows) (stagedVehicleMention, error) {
			var v stagedVehicleMention
			err := r.Scan(&v.ID, &v.ChunkID, &v.Make, &v.Model, &v.YearStart, &v.YearEnd, &v.Engine, &v.Transmission, &v.RelatedDTCCodes, &v.Trust, &v.Relevance)
			return v, err
		}); err != nil {
		return s, fmt.Errorf("resolve: load staged vehicle mentions: %w", err)
	}

	return s, nil
}

func loadRows[T any](ctx context.Context, pool *db.Pool, docID string, query string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Q(ctx).Query(ctx, query, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
