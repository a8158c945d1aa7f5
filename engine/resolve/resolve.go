// Package resolve implements the Resolve stage: the scoring and
// conflict-resolution engine that turns one document's staged extractions
// into provenance-tracked knowledge-graph upserts. It runs the six phases
// (fingerprinting, aggregation, unified scoring, vehicle linking, upsert,
// provenance/audit) in one transaction per document and uses no LLM, so
// every failure here is a database error, never a reasoning failure.
package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/engine/scoring"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
)

// Stage implements the Resolve stage's Process function.
type Stage struct{}

func (s *Stage) Process(ctx context.Context, pool *db.Pool, docID string) error {
	staged, err := loadStaging(ctx, pool, docID)
	if err != nil {
		return domain.Transient(fmt.Errorf("resolve: %w", err))
	}

	runID := uuid.New().String()
	isNoOp := len(staged.DTCCodes) == 0 && len(staged.Causes) == 0 && len(staged.Steps) == 0 &&
		len(staged.Sensors) == 0 && len(staged.TSBs) == 0

	r := &run{ctx: ctx, pool: pool, docID: docID, runID: runID}
	err = pool.WithTx(ctx, func(ctx context.Context) error {
		r.ctx = ctx

		if isNoOp {
			return r.logResolution(domain.ActionRejected, "", "", "no staged extractions for this document")
		}

		dtcMasterIDs, err := r.upsertDTCMasters(staged.DTCCodes)
		if err != nil {
			return err
		}

		if err := r.resolveAndLinkVehicles(staged.Vehicles, dtcMasterIDs); err != nil {
			return err
		}
		if err := r.resolveCauses(staged.Causes, dtcMasterIDs, staged.Vehicles); err != nil {
			return err
		}
		if err := r.resolveSteps(staged.Steps, dtcMasterIDs, staged.Vehicles); err != nil {
			return err
		}
		if err := r.resolveSensors(staged.Sensors, dtcMasterIDs); err != nil {
			return err
		}
		if err := r.resolveTSBs(staged.TSBs, dtcMasterIDs); err != nil {
			return err
		}

		return r.updateDocumentConfidence()
	})
	if err != nil {
		return domain.Transient(fmt.Errorf("resolve: commit document %s: %w", docID, err))
	}
	if !isNoOp {
		metrics.ObserveResolveRun("dtc_master", len(staged.DTCCodes), 0)
		metrics.ObserveResolveRun("dtc_possible_causes", len(staged.Causes), r.causeConflicts)
		metrics.ObserveResolveRun("dtc_diagnostic_steps", len(staged.Steps), 0)
	}
	return nil
}

// run carries the per-document, per-transaction state Phases C-F share.
type run struct {
	ctx            context.Context
	pool           *db.Pool
	docID          string
	runID          string
	causeConflicts int
}

func (r *run) logResolution(action domain.ResolutionAction, entityTable, entityID, details string) error {
	_, err := r.pool.Q(r.ctx).Exec(r.ctx,
		`INSERT INTO resolution_log (id, run_id, document_id, action, entity_table, entity_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New().String(), r.runID, r.docID, action, entityTable, entityID, details)
	return err
}

func (r *run) recordSource(entityTable, entityID, chunkID string, trust, relevance float64) error {
	_, err := r.pool.Q(r.ctx).Exec(r.ctx,
		`INSERT INTO entity_sources (id, entity_table, entity_id, chunk_id, trust, relevance, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		uuid.New().String(), entityTable, entityID, chunkID, trust, relevance)
	return err
}

// upsertDTCMasters implements the DTC-master half of Phase E: upsert keyed
// on code, updating generic_description only when the new observation's
// trust strictly exceeds the stored one. conflict_flag flips when a later
// observation of the same code within this run disagrees with the first
// one seen on a closed-set attribute (category or severity) — the
// "different severity_level" example Phase E's conflict rule gives for
// dtc_master, mirroring upsertCause's causesConflict check for causes.
func (r *run) upsertDTCMasters(codes []stagedDTC) (map[string]string, error) {
	ids := map[string]string{}
	seen := map[string]stagedDTC{}
	for _, c := range codes {
		id, existingTrust, existed, err := r.lookupDTCMaster(c.Code)
		if err != nil {
			return nil, err
		}

		conflict := false
		if first, ok := seen[c.Code]; ok {
			conflict = c.Category != first.Category || c.Severity != first.Severity
		} else {
			seen[c.Code] = c
		}

		if !existed {
			id = uuid.New().String()
			if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
				`INSERT INTO dtc_master (id, code, generic_description, category, severity, trust, conflict_flag, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
				id, c.Code, c.Description, c.Category, c.Severity, c.Trust, conflict); err != nil {
				return nil, fmt.Errorf("insert dtc_master %s: %w", c.Code, err)
			}
			if err := r.logResolution(domain.ActionCreated, "dtc_master", id, "new DTC code "+c.Code); err != nil {
				return nil, err
			}
		} else if c.Trust > existingTrust {
			if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
				`UPDATE dtc_master SET generic_description = $1, category = $2, severity = $3, trust = $4, conflict_flag = conflict_flag OR $5, updated_at = now() WHERE id = $6`,
				c.Description, c.Category, c.Severity, c.Trust, conflict, id); err != nil {
				return nil, fmt.Errorf("update dtc_master %s: %w", c.Code, err)
			}
			if err := r.logResolution(domain.ActionUpdated, "dtc_master", id, "higher-trust description for "+c.Code); err != nil {
				return nil, err
			}
		} else {
			if conflict {
				if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
					`UPDATE dtc_master SET conflict_flag = true, updated_at = now() WHERE id = $1`, id); err != nil {
					return nil, fmt.Errorf("flag dtc_master conflict %s: %w", c.Code, err)
				}
			}
			if err := r.logResolution(domain.ActionMerged, "dtc_master", id, "no description change for "+c.Code); err != nil {
				return nil, err
			}
		}
		if err := r.recordSource("dtc_master", id, c.ChunkID, c.Trust, c.Relevance); err != nil {
			return nil, err
		}
		ids[c.Code] = id
	}
	return ids, nil
}

func (r *run) lookupDTCMaster(code string) (id string, trust float64, existed bool, err error) {
	row := r.pool.Q(r.ctx).QueryRow(r.ctx, `SELECT id, trust FROM dtc_master WHERE code = $1`, code)
	scanErr := row.Scan(&id, &trust)
	if scanErr == nil {
		return id, trust, true, nil
	}
	return "", 0, false, nil
}

func (r *run) resolveAndLinkVehicles(mentions []stagedVehicleMention, dtcMasterIDs map[string]string) error {
	for _, m := range mentions {
		vehicleID, err := resolveVehicle(r.ctx, r.pool, m)
		if err != nil {
			// Vehicle resolution failing for one mention (missing make/model)
			// is an invariant violation on that single mention, not the whole
			// document: drop it and keep going.
			continue
		}
		codes := m.RelatedDTCCodes
		if len(codes) == 0 {
			for code := range dtcMasterIDs {
				codes = append(codes, code)
			}
		}
		for _, code := range codes {
			masterID, ok := dtcMasterIDs[code]
			if !ok {
				continue
			}
			if err := linkVehicleToDTC(r.ctx, r.pool, masterID, vehicleID); err != nil {
				return fmt.Errorf("link vehicle to dtc %s: %w", code, err)
			}
		}
	}
	return nil
}

func (r *run) resolveCauses(causes []stagedCause, dtcMasterIDs map[string]string, vehicles []stagedVehicleMention) error {
	byCode := map[string][]stagedCause{}
	for _, c := range causes {
		byCode[c.DTCCode] = append(byCode[c.DTCCode], c)
	}
	for code, group := range byCode {
		masterID, ok := dtcMasterIDs[code]
		if !ok {
			continue
		}
		for _, g := range groupByFingerprint(group, func(c stagedCause) string { return c.Description }) {
			if err := r.upsertCause(masterID, code, g, vehicles); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) upsertCause(masterID, dtcCode string, g group[stagedCause], vehicles []stagedVehicleMention) error {
	agg := aggregateCauses(g.Items)
	vehicleMatch := vehicleSpecificityFor(dtcCode, vehicles)
	score := scoring.UnifiedScore(
		scoring.EvidenceQuality(agg.AvgTrust, agg.AvgRelevance),
		scoring.Consensus(agg.EvidenceCount),
		scoring.VehicleSpecificity(vehicleMatch),
		scoring.PracticalImpact(scoring.KindCause, scoring.PracticalImpactInputs{ProbabilityWeight: agg.ProbabilityWeight}),
	)
	description := g.Items[0].Description
	likelihood := g.Items[0].Likelihood
	conflict := causesConflict(g.Items)
	if conflict {
		r.causeConflicts++
	}

	var id string
	var oldCount int
	var oldTrust, oldRelevance float64
	row := r.pool.Q(r.ctx).QueryRow(r.ctx,
		`SELECT id, evidence_count, avg_trust, avg_relevance FROM dtc_possible_causes
		 WHERE dtc_master_id = $1 AND lower(description) = lower($2)`, masterID, description)
	existed := row.Scan(&id, &oldCount, &oldTrust, &oldRelevance) == nil

	if existed {
		newCount := oldCount + agg.EvidenceCount
		newTrust := scoring.WeightedMean(oldTrust, oldCount, agg.AvgTrust, agg.EvidenceCount)
		newRelevance := scoring.WeightedMean(oldRelevance, oldCount, agg.AvgRelevance, agg.EvidenceCount)
		probabilityWeight := scoring.ProbabilityWeight(newCount)
		if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
			`UPDATE dtc_possible_causes SET evidence_count = $1, avg_trust = $2, avg_relevance = $3,
			   probability_weight = $4, likelihood = $5, score = $6, conflict_flag = conflict_flag OR $7, updated_at = now()
			 WHERE id = $8`,
			newCount, newTrust, newRelevance, probabilityWeight, likelihood, score, conflict, id); err != nil {
			return fmt.Errorf("update dtc_possible_causes: %w", err)
		}
		if err := r.logResolution(domain.ActionMerged, "dtc_possible_causes", id, "merged "+fmt.Sprint(agg.EvidenceCount)+" observation(s)"); err != nil {
			return err
		}
	} else {
		id = uuid.New().String()
		if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
			`INSERT INTO dtc_possible_causes (id, dtc_master_id, description, likelihood, evidence_count, avg_trust, avg_relevance, probability_weight, score, conflict_flag, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
			id, masterID, description, likelihood, agg.EvidenceCount, agg.AvgTrust, agg.AvgRelevance, agg.ProbabilityWeight, score, conflict); err != nil {
			return fmt.Errorf("insert dtc_possible_causes: %w", err)
		}
		if err := r.logResolution(domain.ActionCreated, "dtc_possible_causes", id, "new cause for "+dtcCode); err != nil {
			return err
		}
	}

	for _, c := range g.Items {
		if err := r.recordSource("dtc_possible_causes", id, c.ChunkID, c.Trust, c.Relevance); err != nil {
			return err
		}
	}
	return nil
}

func causesConflict(items []stagedCause) bool {
	if len(items) == 0 {
		return false
	}
	first := items[0].Likelihood
	for _, c := range items[1:] {
		if c.Likelihood != first {
			return true
		}
	}
	return false
}

func (r *run) resolveSteps(steps []stagedStep, dtcMasterIDs map[string]string, vehicles []stagedVehicleMention) error {
	byCode := map[string][]stagedStep{}
	for _, st := range steps {
		byCode[st.DTCCode] = append(byCode[st.DTCCode], st)
	}
	for code, group := range byCode {
		masterID, ok := dtcMasterIDs[code]
		if !ok {
			continue
		}
		for _, g := range groupByFingerprint(group, func(st stagedStep) string { return st.Description }) {
			if err := r.upsertStep(masterID, code, g, vehicles); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) upsertStep(masterID, dtcCode string, g group[stagedStep], vehicles []stagedVehicleMention) error {
	agg := aggregate(g.Items, func(st stagedStep) float64 { return st.Trust }, func(st stagedStep) float64 { return st.Relevance })
	first := g.Items[0]
	vehicleMatch := vehicleSpecificityFor(dtcCode, vehicles)
	score := scoring.UnifiedScore(
		scoring.EvidenceQuality(agg.AvgTrust, agg.AvgRelevance),
		scoring.Consensus(agg.EvidenceCount),
		scoring.VehicleSpecificity(vehicleMatch),
		scoring.PracticalImpact(scoring.KindOther, scoring.PracticalImpactInputs{}),
	)

	var id string
	var oldCount int
	var oldTrust, oldRelevance float64
	row := r.pool.Q(r.ctx).QueryRow(r.ctx,
		`SELECT id, evidence_count, avg_trust, avg_relevance FROM dtc_diagnostic_steps
		 WHERE dtc_master_id = $1 AND lower(description) = lower($2)`, masterID, first.Description)
	existed := row.Scan(&id, &oldCount, &oldTrust, &oldRelevance) == nil

	if existed {
		newCount := oldCount + agg.EvidenceCount
		newTrust := scoring.WeightedMean(oldTrust, oldCount, agg.AvgTrust, agg.EvidenceCount)
		newRelevance := scoring.WeightedMean(oldRelevance, oldCount, agg.AvgRelevance, agg.EvidenceCount)
		if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
			`UPDATE dtc_diagnostic_steps SET step_order = $1, tools_required = $2, expected_values = $3,
			   evidence_count = $4, avg_trust = $5, avg_relevance = $6, score = $7, updated_at = now()
			 WHERE id = $8`,
			first.StepOrder, first.ToolsRequired, first.ExpectedValues, newCount, newTrust, newRelevance, score, id); err != nil {
			return fmt.Errorf("update dtc_diagnostic_steps: %w", err)
		}
		if err := r.logResolution(domain.ActionMerged, "dtc_diagnostic_steps", id, "merged diagnostic step"); err != nil {
			return err
		}
	} else {
		id = uuid.New().String()
		if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
			`INSERT INTO dtc_diagnostic_steps (id, dtc_master_id, step_order, description, tools_required, expected_values, evidence_count, avg_trust, avg_relevance, score, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
			id, masterID, first.StepOrder, first.Description, first.ToolsRequired, first.ExpectedValues, agg.EvidenceCount, agg.AvgTrust, agg.AvgRelevance, score); err != nil {
			return fmt.Errorf("insert dtc_diagnostic_steps: %w", err)
		}
		if err := r.logResolution(domain.ActionCreated, "dtc_diagnostic_steps", id, "new diagnostic step"); err != nil {
			return err
		}
	}

	for _, st := range g.Items {
		if err := r.recordSource("dtc_diagnostic_steps", id, st.ChunkID, st.Trust, st.Relevance); err != nil {
			return err
		}
	}
	return nil
}

// resolveSensors implements Phase E's reference-entity rule for sensors:
// insert-or-lookup on name, then link to every DTC code the staged row
// named.
func (r *run) resolveSensors(sensors []stagedSensor, dtcMasterIDs map[string]string) error {
	for _, sn := range sensors {
		sensorID, err := r.lookupOrCreateSensor(sn)
		if err != nil {
			return err
		}
		for _, code := range sn.RelatedDTCCodes {
			masterID, ok := dtcMasterIDs[code]
			if !ok {
				continue
			}
			if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
				`INSERT INTO dtc_related_sensors (dtc_master_id, sensor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				masterID, sensorID); err != nil {
				return fmt.Errorf("link sensor: %w", err)
			}
		}
		if err := r.recordSource("sensors", sensorID, sn.ChunkID, sn.Trust, sn.Relevance); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) lookupOrCreateSensor(sn stagedSensor) (string, error) {
	var id string
	row := r.pool.Q(r.ctx).QueryRow(r.ctx, `SELECT id FROM sensors WHERE lower(name) = lower($1)`, sn.Name)
	if row.Scan(&id) == nil {
		return id, nil
	}
	id = uuid.New().String()
	_, err := r.pool.Q(r.ctx).Exec(r.ctx,
		`INSERT INTO sensors (id, name, sensor_type, typical_range, unit, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		id, sn.Name, sn.SensorType, sn.TypicalRange, sn.Unit)
	if err != nil {
		return "", fmt.Errorf("insert sensor: %w", err)
	}
	if err := r.logResolution(domain.ActionCreated, "sensors", id, "new sensor "+sn.Name); err != nil {
		return "", err
	}
	return id, nil
}

// resolveTSBs mirrors resolveSensors for TSB reference rows, keyed on
// tsb_number.
func (r *run) resolveTSBs(tsbs []stagedTSB, dtcMasterIDs map[string]string) error {
	for _, tsb := range tsbs {
		tsbID, err := r.lookupOrCreateTSB(tsb)
		if err != nil {
			return err
		}
		for _, code := range tsb.RelatedDTCCodes {
			masterID, ok := dtcMasterIDs[code]
			if !ok {
				continue
			}
			if _, err := r.pool.Q(r.ctx).Exec(r.ctx,
				`INSERT INTO dtc_related_tsbs (dtc_master_id, tsb_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				masterID, tsbID); err != nil {
				return fmt.Errorf("link tsb: %w", err)
			}
		}
		if err := r.recordSource("tsb_references", tsbID, tsb.ChunkID, tsb.Trust, tsb.Relevance); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) lookupOrCreateTSB(tsb stagedTSB) (string, error) {
	var id string
	row := r.pool.Q(r.ctx).QueryRow(r.ctx, `SELECT id FROM tsb_references WHERE tsb_number = $1`, tsb.TSBNumber)
	if row.Scan(&id) == nil {
		return id, nil
	}
	id = uuid.New().String()
	_, err := r.pool.Q(r.ctx).Exec(r.ctx,
		`INSERT INTO tsb_references (id, tsb_number, title, affected_models, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		id, tsb.TSBNumber, tsb.Title, tsb.AffectedModels, tsb.Summary)
	if err != nil {
		return "", fmt.Errorf("insert tsb: %w", err)
	}
	if err := r.logResolution(domain.ActionCreated, "tsb_references", id, "new TSB "+tsb.TSBNumber); err != nil {
		return "", err
	}
	return id, nil
}

// updateDocumentConfidence computes the shared confidence formula over the
// dtc_master rows this run touched and stores the document's own
// confidence_score as their average. The stage transition itself is left
// to the generic pipeline runner, same as every other stage.
func (r *run) updateDocumentConfidence() error {
	rows, err := r.pool.Q(r.ctx).Query(r.ctx,
		`SELECT es.entity_id, count(*), avg(es.trust)
		 FROM entity_sources es
		 JOIN resolution_log rl ON rl.entity_id = es.entity_id::text AND rl.entity_table = es.entity_table
		 WHERE rl.run_id = $1 AND es.entity_table = 'dtc_master'
		 GROUP BY es.entity_id`, r.runID)
	if err != nil {
		return fmt.Errorf("load confidence inputs: %w", err)
	}
	var sum float64
	var n int
	for rows.Next() {
		var entityID string
		var count int
		var avgTrust float64
		if err := rows.Scan(&entityID, &count, &avgTrust); err != nil {
			rows.Close()
			return fmt.Errorf("scan confidence inputs: %w", err)
		}
		sum += scoring.Confidence(count, avgTrust)
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate confidence inputs: %w", err)
	}

	confidence := 0.0
	if n > 0 {
		confidence = sum / float64(n)
	}

	_, err = r.pool.Q(r.ctx).Exec(r.ctx,
		`UPDATE documents SET confidence_score = $1, updated_at = now() WHERE id = $2`,
		confidence, r.docID)
	return err
}
