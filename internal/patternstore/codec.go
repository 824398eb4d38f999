package patternstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Metadata keys shared by the chromem documents and qdrant payloads.
const (
	fieldID         = "pattern_id"
	fieldKind       = "kind"
	fieldSignature  = "signature"
	fieldSigKey     = "signature_key"
	fieldUnitID     = "unit_id"
	fieldTaskID     = "task_id"
	fieldSummary    = "summary"
	fieldDiagnostic = "diagnostic"
	fieldTier       = "tier"
	fieldConfidence = "confidence"
	fieldCreatedAt  = "created_at"
	fieldRelations  = "relations"
)

// encodeFields flattens p (minus its embedding) into string metadata.
func encodeFields(p Pattern) (map[string]string, error) {
	rels, err := json.Marshal(p.Relations)
	if err != nil {
		return nil, fmt.Errorf("encoding relations: %w", err)
	}
	return map[string]string{
		fieldID:         p.ID,
		fieldKind:       string(p.Kind),
		fieldSignature:  p.Signature,
		fieldSigKey:     SignatureKey(p.Signature),
		fieldUnitID:     p.UnitID,
		fieldTaskID:     p.TaskID,
		fieldSummary:    p.Summary,
		fieldDiagnostic: p.Diagnostic,
		fieldTier:       p.Tier,
		fieldConfidence: strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		fieldCreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldRelations:  string(rels),
	}, nil
}

// decodeFields rebuilds a pattern from metadata written by encodeFields.
func decodeFields(id string, m map[string]string) (Pattern, error) {
	p := Pattern{
		ID:         id,
		Kind:       Kind(m[fieldKind]),
		Signature:  m[fieldSignature],
		UnitID:     m[fieldUnitID],
		TaskID:     m[fieldTaskID],
		Summary:    m[fieldSummary],
		Diagnostic: m[fieldDiagnostic],
		Tier:       m[fieldTier],
	}
	if stored := m[fieldID]; stored != "" {
		p.ID = stored
	}

	if v := m[fieldConfidence]; v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Pattern{}, fmt.Errorf("decoding confidence %q: %w", v, err)
		}
		p.Confidence = c
	}
	if v := m[fieldCreatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Pattern{}, fmt.Errorf("decoding created_at %q: %w", v, err)
		}
		p.CreatedAt = t
	}
	if v := m[fieldRelations]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &p.Relations); err != nil {
			return Pattern{}, fmt.Errorf("decoding relations: %w", err)
		}
	}
	return p, nil
}
