package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// rawTimedJSON représente la structure "brute" du format timed-JSON (json3)
// telle que renvoyée par l'endpoint timedtext.
type rawTimedJSON struct {
	WireMagic string     `json:"wireMagic,omitempty"`
	Events    []rawEvent `json:"events"`
}

type rawEvent struct {
	TStartMs    *int64   `json:"tStartMs,omitempty"`
	DDurationMs *int64   `json:"dDurationMs,omitempty"`
	Segs        []rawSeg `json:"segs,omitempty"`
	// on ignore volontairement les autres champs (wpWinPosId, wWinId, etc.)
}

type rawSeg struct {
	Utf8      string `json:"utf8"`
	TOffsetMs *int64 `json:"tOffsetMs,omitempty"`
}

// startMs retourne le timestamp de départ de l'event, 0 si absent.
func (e rawEvent) startMs() int64 {
	if e.TStartMs != nil {
		return *e.TStartMs
	}
	return 0
}

// durationMs retourne la durée de l'event, 0 si absente.
func (e rawEvent) durationMs() int64 {
	if e.DDurationMs != nil {
		return *e.DDurationMs
	}
	return 0
}

// parseTimedJSON parse un blob timed-JSON ([]byte) et retourne la structure brute.
// Pas de DisallowUnknownFields : le JSON contient souvent des champs non mappés
// qu'on veut ignorer proprement.
func parseTimedJSON(b []byte) (rawTimedJSON, error) {
	var raw rawTimedJSON
	if len(b) == 0 {
		return raw, fmt.Errorf("parseTimedJSON: empty input")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return raw, fmt.Errorf("parseTimedJSON: decode error: %w", err)
	}
	return raw, nil
}
