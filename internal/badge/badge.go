// Package badge porte l'indicateur visuel tri-état de l'icône d'extension.
// Pur effet d'affichage : aucune valeur de retour, aucune influence sur le
// pipeline.
package badge

import (
	"log"
	"sync"
)

// Status : none (pas une page vidéo), pending (pistes annoncées mais rien
// d'extrait), ready (sous-titres exportés).
type Status string

const (
	StatusNone    Status = "none"
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
)

// Indicator reçoit le signal par onglet. Clear efface le badge quand
// l'onglet cesse d'être une page vidéo (navigation, fermeture).
type Indicator interface {
	Set(tabID int, status Status)
	Clear(tabID int)
}

// LogIndicator journalise les transitions ; c'est l'implémentation hébergée,
// le vrai badge vit côté navigateur.
type LogIndicator struct {
	mu   sync.Mutex
	last map[int]Status
}

func NewLogIndicator() *LogIndicator {
	return &LogIndicator{last: make(map[int]Status)}
}

func (l *LogIndicator) Set(tabID int, status Status) {
	l.mu.Lock()
	prev := l.last[tabID]
	l.last[tabID] = status
	l.mu.Unlock()

	if prev != status {
		log.Printf("badge: onglet %d -> %s", tabID, status)
	}
}

// Last retourne le dernier statut posé pour un onglet.
func (l *LogIndicator) Last(tabID int) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.last[tabID]; ok {
		return s
	}
	return StatusNone
}

// Clear remet l'onglet à none (fermeture d'onglet, changement d'URL).
func (l *LogIndicator) Clear(tabID int) {
	l.Set(tabID, StatusNone)
}

// Noop ignore tout signal.
type Noop struct{}

func (Noop) Set(int, Status) {}
func (Noop) Clear(int)       {}
