// Package bridge fournit des sémantiques requête/réponse au-dessus d'un
// substrat de messagerie fondamentalement asynchrone et "fire-and-forget"
// (l'équivalent d'un postMessage entre contextes isolés : aucune corrélation
// de réponse intégrée). La corrélation se fait par requestId, avec timeout et
// résolution exactement-une-fois.
package bridge

import (
	"encoding/json"
	"strings"
)

// SourceMarker est le marqueur fixe identifiant les messages de cette
// extension sur le canal générique : tout message dont la source ne commence
// pas par ce préfixe est ignoré (évite le cross-talk avec des scripts tiers).
const SourceMarker = "subtitle-extractor"

// Tags de source par contexte d'exécution.
const (
	SourceInjector   = SourceMarker + "-injector"
	SourceContent    = SourceMarker + "-content"
	SourceBackground = SourceMarker + "-background"
	SourcePopup      = SourceMarker + "-popup"
)

// Envelope est le message échangé sur le bus. Un message avec RequestID et
// sans ReplyTo est une requête ; ReplyTo renseigné en fait une réponse ;
// ni l'un ni l'autre : un événement (notification sans réponse attendue).
type Envelope struct {
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// IsOurs filtre par le marqueur de source. Les messages non marqués sont du
// bruit d'autres scripts partageant le même canal.
func (e Envelope) IsOurs() bool {
	return strings.HasPrefix(e.Source, SourceMarker)
}

// IsRequest / IsReply / IsEvent : discrimination du rôle de l'enveloppe.
func (e Envelope) IsRequest() bool { return e.RequestID != "" && e.ReplyTo == "" }
func (e Envelope) IsReply() bool   { return e.ReplyTo != "" }
func (e Envelope) IsEvent() bool   { return e.RequestID == "" && e.ReplyTo == "" }
