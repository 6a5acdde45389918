// Package normalize convertit les deux formats "wire" de sous-titres
// (timed-JSON alias json3, et timed-text XML) vers la séquence canonique
// model.CueList. Les fonctions sont pures : une entrée malformée produit une
// liste vide, jamais une erreur qui remonterait jusqu'au flux d'extraction.
package normalize

import (
	"bytes"
	"html"
	"strings"

	"github.com/patrickprogramme/subcatch/pkg/model"
)

// Sniff devine le format d'un payload capturé : JSON d'abord (le cas le plus
// fréquent), XML ensuite. Retourne false si aucun des deux ne colle — résultat
// attendu et non-fatal, toutes les URLs timedtext ne donnent pas des données
// exploitables.
func Sniff(raw []byte) (model.RawFormat, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	if trimmed[0] == '{' {
		if _, err := parseTimedJSON(trimmed); err == nil {
			return model.FormatTimedJSON, true
		}
	}
	if trimmed[0] == '<' {
		if _, err := parseTimedXML(trimmed); err == nil {
			return model.FormatTimedXML, true
		}
	}
	return "", false
}

// Normalize convertit un payload brut vers une CueList selon son format.
// Entrée malformée ou format inconnu -> liste vide.
func Normalize(raw []byte, f model.RawFormat) model.CueList {
	switch f {
	case model.FormatTimedJSON:
		parsed, err := parseTimedJSON(raw)
		if err != nil {
			return model.CueList{}
		}
		return normalizeTimedJSON(parsed)
	case model.FormatTimedXML:
		parsed, err := parseTimedXML(raw)
		if err != nil {
			return model.CueList{}
		}
		return normalizeTimedXML(parsed)
	default:
		return model.CueList{}
	}
}

// normalizeTimedJSON : concatène les segs dans l'ordre, trim, ms -> secondes.
// Les events dont le texte concaténé est vide après trim sont exclus.
func normalizeTimedJSON(raw rawTimedJSON) model.CueList {
	cues := model.CueList{}
	for _, ev := range raw.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.Utf8)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		start := float64(ev.startMs()) / 1000
		cues = append(cues, model.Cue{
			StartSeconds: start,
			EndSeconds:   start + float64(ev.durationMs())/1000,
			Text:         text,
		})
	}
	return cues
}

// normalizeTimedXML : start/dur sont déjà en secondes, pas de conversion.
// On repasse le chardata par html.UnescapeString pour couvrir les entités
// doublement échappées (&amp;#39;) que le décodeur XML laisse telles quelles.
func normalizeTimedXML(raw rawTimedXML) model.CueList {
	cues := model.CueList{}
	for _, el := range raw.Texts {
		text := strings.TrimSpace(html.UnescapeString(el.Body))
		if text == "" {
			continue
		}
		cues = append(cues, model.Cue{
			StartSeconds: el.Start,
			EndSeconds:   el.Start + el.Dur,
			Text:         text,
		})
	}
	return cues
}
