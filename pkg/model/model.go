package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifie la plateforme vidéo d'origine.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformBilibili Platform = "bilibili"
)

// TrackKind distingue les sous-titres fournis par l'auteur des sous-titres
// générés automatiquement (ASR).
type TrackKind string

const (
	TrackKindStandard TrackKind = "standard"
	TrackKindAuto     TrackKind = "auto-generated"
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindAuto:
		return "auto captions"
	case TrackKindStandard:
		return "manual subtitles"
	default:
		return "unknown subtitles"
	}
}

// RawFormat indique le format "wire" d'un payload capturé, avant normalisation.
type RawFormat string

const (
	FormatTimedJSON RawFormat = "timed-json"
	FormatTimedXML  RawFormat = "timed-xml"
)

// ParseRawFormat : de la chaîne à la constante typée, erreur si format inconnu.
func ParseRawFormat(s string) (RawFormat, error) {
	switch s {
	case "timed-json", "json3":
		return FormatTimedJSON, nil
	case "timed-xml", "xml":
		return FormatTimedXML, nil
	default:
		return "", fmt.Errorf("format inconnu: %s", s)
	}
}

// Cue est une entrée de sous-titre normalisée : temps en secondes, texte nettoyé.
type Cue struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
}

// CueList est la séquence normalisée exportable. L'ordre est celui d'arrivée
// de la source, jamais re-trié.
type CueList []Cue

// Plain retourne le texte brut du CueList, une ligne par cue.
func (cl CueList) Plain() string {
	var sb strings.Builder
	for i, c := range cl {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// CaptionTrack décrit une piste de sous-titres annoncée par la plateforme,
// pas encore téléchargée/capturée.
type CaptionTrack struct {
	LanguageCode  string    `json:"languageCode"`
	DisplayName   string    `json:"displayName,omitempty"`
	Kind          TrackKind `json:"kind,omitempty"`
	SourceLocator string    `json:"sourceLocator,omitempty"`
}

func (t CaptionTrack) String() string {
	return fmt.Sprintf("CaptionTrack(lang=%s, kind=%s)", t.LanguageCode, t.Kind)
}

// VideoInfo regroupe les métadonnées remontées par le fournisseur d'infos page.
// VideoID est l'identité vidéo : toute divergence avec l'identité observée
// invalide l'état en cache.
type VideoInfo struct {
	VideoID string `json:"videoId"`
	// PartID est l'identifiant de partie (cid) des plateformes multi-parties ;
	// vide ailleurs.
	PartID          string         `json:"cid,omitempty"`
	Title           string         `json:"title"`
	Author          string         `json:"author,omitempty"`
	DurationSeconds int64          `json:"lengthSeconds,omitempty"`
	Tracks          []CaptionTrack `json:"captionTracks,omitempty"`
}

func (v VideoInfo) HasTracks() bool { return len(v.Tracks) > 0 }

func (v VideoInfo) String() string {
	return fmt.Sprintf("VideoInfo[ID=%s, Title=%q, Tracks=%d]", v.VideoID, v.Title, len(v.Tracks))
}

// ExportData est le format de sortie durable du système : c'est ce que les
// consommateurs externes relisent (attribut DOM sérialisé côté extension).
type ExportData struct {
	Platform    Platform `json:"platform"`
	VideoID     string   `json:"videoId"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	Language    string   `json:"language"`
	ExtractedAt string   `json:"extractedAt"` // ISO-8601
	Subtitles   CueList  `json:"subtitles"`
}

// NewExportData construit l'ExportData avec l'horodatage courant.
func NewExportData(p Platform, info VideoInfo, lang string, cues CueList) ExportData {
	return ExportData{
		Platform:    p,
		VideoID:     info.VideoID,
		Title:       info.Title,
		Author:      info.Author,
		Language:    lang,
		ExtractedAt: time.Now().UTC().Format(time.RFC3339),
		Subtitles:   cues,
	}
}
