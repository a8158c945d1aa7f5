// Package extract implements the Extract stage: for each chunk past the
// relevance gate, a reasoning call emits a structured JSON object of DTC
// codes, causes, diagnostic steps, sensors, TSB references, and vehicle
// mentions, staged into the refined (non-normalized) area for Resolve.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/overdrivelabs/dtcpipe/pkg/reasoning"
)

// RelevanceGate is the minimum relevance_score a chunk needs to be sent to
// extraction at all.
const RelevanceGate = 0.3

const systemPrompt = `You are an automotive repair domain expert extracting structured
diagnostic knowledge from a single passage of repair documentation.

Extract only what the text explicitly states. Never infer or fabricate a
detail the passage does not contain; omit a field or array entry rather
than guess.

Respond with a single JSON object and nothing else, matching this shape:
{
  "dtc_codes": [{"code": "P0301", "description": "...", "category": "...", "severity": "critical|moderate|minor|informational"}],
  "causes": [{"dtc_code": "P0301", "description": "...", "likelihood": "high|medium|low"}],
  "diagnostic_steps": [{"dtc_code": "P0301", "step_order": 1, "description": "...", "tools_required": "...", "expected_values": "..."}],
  "sensors": [{"name": "...", "sensor_type": "...", "typical_range": "...", "unit": "...", "related_dtc_codes": ["P0301"]}],
  "tsb_references": [{"tsb_number": "...", "title": "...", "affected_models": "...", "related_dtc_codes": ["P0301"], "summary": "..."}],
  "vehicles_mentioned": [{"make": "...", "model": "...", "year_start": 2015, "year_end": 2018, "engine": "...", "transmission": "...", "related_dtc_codes": ["P0301"]}],
  "document_category": "repair_procedure|diagnostic_guide|dtc_reference|tsb_bulletin|wiring_diagram|parts_catalog|forum_discussion|owners_manual|recall_notice|general_reference"
}

DTC codes must match ^[PBCU][0-9A-Fa-f]{4}$. Drop any code that does not.`

// Stage implements the Extract stage's Process function.
type Stage struct {
	Client reasoning.Client
}

func (s *Stage) Process(ctx context.Context, pool *db.Pool, docID string) error {
	rows, err := pool.Q(ctx).Query(ctx,
		`SELECT c.id, c.text, e.trust_score, e.relevance_score
		 FROM chunks c JOIN chunk_evaluations e ON e.chunk_id = c.id
		 WHERE c.document_id = $1 AND e.relevance_score >= $2
		 ORDER BY c.index ASC`,
		docID, RelevanceGate)
	if err != nil {
		return domain.Transient(fmt.Errorf("extract: query eligible chunks for document %s: %w", docID, err))
	}

	type candidate struct {
		id        string
		text      string
		trust     float64
		relevance float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.text, &c.trust, &c.relevance); err != nil {
			rows.Close()
			return domain.Transient(fmt.Errorf("extract: scan chunk: %w", err))
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Transient(fmt.Errorf("extract: iterate chunks: %w", err))
	}
	rows.Close()

	var category string
	err = pool.WithTx(ctx, func(ctx context.Context) error {
		for _, c := range candidates {
			payload, ok := s.extractChunk(ctx, c.text)
			if !ok {
				continue
			}
			if payload.DocumentCategory != "" {
				category = string(domain.NormalizeCategory(payload.DocumentCategory))
			}
			if err := s.stage(ctx, pool, docID, c.id, c.trust, c.relevance, payload); err != nil {
				return err
			}
		}
		if category != "" {
			if _, err := pool.Q(ctx).Exec(ctx,
				`UPDATE documents SET document_category = $1, updated_at = now() WHERE id = $2`,
				category, docID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Transient(fmt.Errorf("extract: commit staged extraction for document %s: %w", docID, err))
	}
	return nil
}

// extractChunk returns ok=false when the reasoning call or its JSON parse
// fails; the calling chunk is simply skipped rather than failing the stage,
// matching the non-fatal contract the Evaluate stage also follows.
func (s *Stage) extractChunk(ctx context.Context, text string) (domain.ExtractionJSON, bool) {
	start := time.Now()
	raw, err := s.Client.Complete(ctx, systemPrompt, text)
	if err != nil {
		metrics.ObserveReasoningCall("extract", "error", time.Since(start))
		return domain.ExtractionJSON{}, false
	}
	payload, ok := reasoning.ParseJSON[domain.ExtractionJSON](raw)
	if !ok {
		metrics.ObserveReasoningCall("extract", "parse_fallback", time.Since(start))
		return domain.ExtractionJSON{}, false
	}
	metrics.ObserveReasoningCall("extract", "ok", time.Since(start))
	payload.DTCCodes = filterValidDTCCodes(payload.DTCCodes)
	return payload, true
}

func filterValidDTCCodes(entries []domain.DTCCodeEntry) []domain.DTCCodeEntry {
	var out []domain.DTCCodeEntry
	for _, e := range entries {
		if canon, ok := domain.CanonicalDTCCode(e.Code); ok {
			e.Code = canon
			out = append(out, e)
		}
	}
	return out
}

// stage writes one staging row per extracted entity, each carrying its
// originating chunk and that chunk's trust/relevance for Resolve to
// aggregate from.
func (s *Stage) stage(ctx context.Context, pool *db.Pool, docID, chunkID string, trust, relevance float64, payload domain.ExtractionJSON) error {
	for _, dtc := range payload.DTCCodes {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_dtc_codes (id, document_id, chunk_id, code, description, category, severity, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
			uuid.New().String(), docID, chunkID, dtc.Code, dtc.Description, dtc.Category, domain.NormalizeSeverity(string(dtc.Severity)), trust, relevance); err != nil {
			return err
		}
	}
	for _, cause := range payload.Causes {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_causes (id, document_id, chunk_id, dtc_code, description, likelihood, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			uuid.New().String(), docID, chunkID, cause.DTCCode, cause.Description, domain.NormalizeLikelihood(string(cause.Likelihood)), trust, relevance); err != nil {
			return err
		}
	}
	for _, step := range payload.DiagnosticSteps {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_diagnostic_steps (id, document_id, chunk_id, dtc_code, step_order, description, tools_required, expected_values, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
			uuid.New().String(), docID, chunkID, step.DTCCode, step.StepOrder, step.Description, step.ToolsRequired, step.ExpectedValues, trust, relevance); err != nil {
			return err
		}
	}
	for _, sensor := range payload.Sensors {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_sensors (id, document_id, chunk_id, name, sensor_type, typical_range, unit, related_dtc_codes, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
			uuid.New().String(), docID, chunkID, sensor.Name, sensor.SensorType, sensor.TypicalRange, sensor.Unit, sensor.RelatedDTCCodes, trust, relevance); err != nil {
			return err
		}
	}
	for _, tsb := range payload.TSBReferences {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_tsb_references (id, document_id, chunk_id, tsb_number, title, affected_models, related_dtc_codes, summary, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
			uuid.New().String(), docID, chunkID, tsb.TSBNumber, tsb.Title, tsb.AffectedModels, tsb.RelatedDTCCodes, tsb.Summary, trust, relevance); err != nil {
			return err
		}
	}
	for _, v := range payload.VehiclesMentioned {
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO staged_vehicle_mentions (id, document_id, chunk_id, make, model, year_start, year_end, engine, transmission, related_dtc_codes, trust, relevance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
			uuid.New().String(), docID, chunkID, v.Make, v.Model, v.YearStart, v.YearEnd, v.Engine, v.Transmission, v.RelatedDTCCodes, trust, relevance); err != nil {
			return err
		}
	}
	return nil
}
