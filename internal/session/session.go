// Package session tient le cache en mémoire des sous-titres capturés pour un
// onglet : une entrée par langue, valable uniquement tant que l'identité vidéo
// ne change pas. Pas de persistance : la durée de vie est celle de la session.
package session

import (
	"sync"
	"time"

	"github.com/patrickprogramme/subcatch/pkg/model"
)

// CapturedCaption est un payload de sous-titres réalisé, récupéré du trafic
// réseau ou d'un fetch direct.
type CapturedCaption struct {
	LanguageCode string
	CapturedAt   time.Time
	Format       model.RawFormat
	Data         []byte // payload brut, au format source
	SourceURL    string

	// Seq est le numéro d'ordre d'émission de la requête d'origine. Un upsert
	// portant un Seq plus ancien que l'entrée retenue est rejeté : une réponse
	// retardataire ne doit pas écraser une capture plus fraîche.
	Seq uint64
}

// Snapshot est la projection en lecture seule consommée par le popup.
type Snapshot struct {
	VideoInfo     model.VideoInfo
	HasData       bool
	Languages     []string
	Tracks        []model.CaptionTrack
	CapturedCount int
}

// Session est la racine d'agrégat par onglet : identité vidéo + pistes
// annoncées + captures par langue. La session appartient exclusivement au
// contrôleur de l'onglet ; les autres contextes n'y accèdent que par messages.
type Session struct {
	mu sync.Mutex

	videoInfo model.VideoInfo
	captured  map[string]CapturedCaption
	order     []string // langues dans l'ordre d'insertion, pour le fallback déterministe
}

func New() *Session {
	return &Session{captured: make(map[string]CapturedCaption)}
}

// VideoID retourne la dernière identité vidéo confirmée ("" si aucune).
func (s *Session) VideoID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoInfo.VideoID
}

// SetVideoInfo remplace les métadonnées de la vidéo courante (identité,
// titre, pistes) sans toucher aux captures.
func (s *Session) SetVideoInfo(info model.VideoInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoInfo = info
}

// VideoInfo retourne une copie des métadonnées courantes.
func (s *Session) VideoInfo() model.VideoInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoInfo
}

// UpsertCapture : remplace-ou-insère la capture pour sa langue
// (last-write-wins). Retourne true si la langue est nouvelle — c'est le signal
// de notification ; un remplacement ne re-notifie pas.
// Un remplacement dont Seq est strictement plus ancien que l'entrée en place
// est rejeté (réponse retardataire).
func (s *Session) UpsertCapture(c CapturedCaption) (isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.captured[c.LanguageCode]
	if exists {
		if c.Seq < prev.Seq {
			return false // capture périmée, on garde la plus récente
		}
		s.captured[c.LanguageCode] = c
		return false
	}
	s.captured[c.LanguageCode] = c
	s.order = append(s.order, c.LanguageCode)
	return true
}

// CaptureFor retourne la capture pour la langue exacte si présente, sinon la
// première insérée (fallback déterministe : l'appelant tolère un résultat
// approché quand la langue exacte n'a jamais été capturée). false si aucune
// capture n'existe.
func (s *Session) CaptureFor(lang string) (CapturedCaption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.captured[lang]; ok {
		return c, true
	}
	if len(s.order) > 0 {
		return s.captured[s.order[0]], true
	}
	return CapturedCaption{}, false
}

// Reset vide pistes et captures ; appelé à chaque changement d'identité vidéo
// détecté.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoInfo = model.VideoInfo{}
	s.captured = make(map[string]CapturedCaption)
	s.order = nil
}

// SnapshotStatus : projection en lecture seule, ne mute jamais l'état.
func (s *Session) SnapshotStatus() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	langs := make([]string, len(s.order))
	copy(langs, s.order)
	tracks := make([]model.CaptionTrack, len(s.videoInfo.Tracks))
	copy(tracks, s.videoInfo.Tracks)

	return Snapshot{
		VideoInfo:     s.videoInfo,
		HasData:       len(s.captured) > 0,
		Languages:     langs,
		Tracks:        tracks,
		CapturedCount: len(s.captured),
	}
}
