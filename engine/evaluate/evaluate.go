// Package evaluate implements the Evaluate stage: for each chunk of a
// document, a reasoning call judges trust, relevance, and automotive
// domain, and the verdict is upserted one row per chunk.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/overdrivelabs/dtcpipe/pkg/reasoning"
)

const systemPrompt = `You are an automotive repair domain expert judging the quality of a
single passage of text for a diagnostic-trouble-code knowledge base.

Respond with a single JSON object and nothing else:
{
  "trust_score": <0..1, how authoritative and accurate this passage is>,
  "relevance_score": <0..1, how useful this passage is for diagnosing DTCs>,
  "automotive_domain": <one of "obd", "electrical", "engine", "transmission", "brakes", "suspension", "hvac", "body", "general", "unknown">,
  "reasoning": <one sentence explaining the scores>
}

Scoring anchors: OEM service manual content with exact procedures and
measurements scores trust ~0.9 or higher. Step-by-step diagnostic
instructions with measured values score relevance ~0.9 or higher. Forum
spam, advertising, or off-topic text scores near 0 on both.`

// Stage implements the Evaluate stage's Process function.
type Stage struct {
	Client  reasoning.Client
	ModelID string
}

func (s *Stage) Process(ctx context.Context, pool *db.Pool, docID string) error {
	rows, err := pool.Q(ctx).Query(ctx,
		`SELECT id, text FROM chunks WHERE document_id = $1 ORDER BY index ASC`, docID)
	if err != nil {
		return domain.Transient(fmt.Errorf("evaluate: query chunks for document %s: %w", docID, err))
	}

	type chunk struct {
		id   string
		text string
	}
	var chunks []chunk
	for rows.Next() {
		var c chunk
		if err := rows.Scan(&c.id, &c.text); err != nil {
			rows.Close()
			return domain.Transient(fmt.Errorf("evaluate: scan chunk: %w", err))
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Transient(fmt.Errorf("evaluate: iterate chunks: %w", err))
	}
	rows.Close()

	for _, c := range chunks {
		verdict := s.evaluateChunk(ctx, c.id, c.text)
		_, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO chunk_evaluations (chunk_id, trust_score, relevance_score, automotive_domain, reasoning, model_id, evaluated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (chunk_id) DO UPDATE SET
			   trust_score = EXCLUDED.trust_score,
			   relevance_score = EXCLUDED.relevance_score,
			   automotive_domain = EXCLUDED.automotive_domain,
			   reasoning = EXCLUDED.reasoning,
			   model_id = EXCLUDED.model_id,
			   evaluated_at = EXCLUDED.evaluated_at`,
			c.id, verdict.TrustScore, verdict.RelevanceScore, domain.NormalizeDomain(verdict.AutomotiveDomain),
			verdict.Reasoning, s.modelID())
		if err != nil {
			return domain.Transient(fmt.Errorf("evaluate: upsert evaluation for chunk %s: %w", c.id, err))
		}
	}
	return nil
}

// evaluateChunk never fails the stage: a reasoning error or an
// unparseable response both degrade to the documented non-fatal
// zero-verdict rather than propagate.
func (s *Stage) evaluateChunk(ctx context.Context, chunkID, text string) domain.EvaluationJSON {
	start := time.Now()
	raw, err := s.Client.Complete(ctx, systemPrompt, text)
	if err != nil {
		metrics.ObserveReasoningCall("evaluate", "error", time.Since(start))
		return zeroVerdict("reasoning call failed")
	}

	verdict, ok := reasoning.ParseJSON[domain.EvaluationJSON](raw)
	if !ok {
		metrics.ObserveReasoningCall("evaluate", "parse_fallback", time.Since(start))
		return zeroVerdict("parse failed")
	}
	metrics.ObserveReasoningCall("evaluate", "ok", time.Since(start))

	verdict.TrustScore = clamp01(verdict.TrustScore)
	verdict.RelevanceScore = clamp01(verdict.RelevanceScore)
	verdict.AutomotiveDomain = string(domain.NormalizeDomain(verdict.AutomotiveDomain))
	return verdict
}

func zeroVerdict(reason string) domain.EvaluationJSON {
	return domain.EvaluationJSON{
		TrustScore:       0,
		RelevanceScore:   0,
		AutomotiveDomain: string(domain.DomainUnknown),
		Reasoning:        reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Stage) modelID() string {
	if s.ModelID != "" {
		return s.ModelID
	}
	return "unknown"
}
