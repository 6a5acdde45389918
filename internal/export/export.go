// Package export matérialise le contrat de sortie durable du système :
// l'objet normalisé est sérialisé dans un attribut d'un élément caché bien
// connu du DOM, et un événement personnalisé prévient les observateurs qu'une
// nouvelle donnée est disponible. Tout consommateur relit le JSON de cet
// attribut.
package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/patrickprogramme/subcatch/pkg/model"
)

// Identifiants du contrat : l'élément conteneur, l'attribut de données et le
// nom de l'événement de mise à jour.
const (
	ContainerID   = "subtitle-extractor-data"
	DataAttribute = "data-subtitles"
	TimeAttribute = "data-timestamp"
	UpdateEvent   = "subtitle-extractor-updated"
)

// Sink reçoit l'export sérialisé. L'implémentation réelle écrit l'attribut
// DOM ; AttrStore en est l'équivalent hébergé.
type Sink interface {
	Write(data model.ExportData) error
}

// AttrStore émule l'élément caché : un jeu d'attributs sous une clé bien
// connue, plus une notification de changement. Sûr pour un accès concurrent.
type AttrStore struct {
	mu    sync.Mutex
	attrs map[string]string

	// OnUpdate est appelé après chaque écriture réussie, avec le nom de
	// l'événement et l'horodatage — l'équivalent du CustomEvent dispatché.
	OnUpdate func(event string, at time.Time)
}

func NewAttrStore() *AttrStore {
	return &AttrStore{attrs: make(map[string]string)}
}

// Write sérialise l'export dans l'attribut de données et horodate l'écriture.
func (a *AttrStore) Write(data model.ExportData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("export: marshal: %w", err)
	}

	now := time.Now()
	a.mu.Lock()
	a.attrs[DataAttribute] = string(b)
	a.attrs[TimeAttribute] = strconv.FormatInt(now.UnixMilli(), 10)
	a.mu.Unlock()

	if a.OnUpdate != nil {
		a.OnUpdate(UpdateEvent, now)
	}
	return nil
}

// Attr retourne la valeur brute d'un attribut ("" si absent).
func (a *AttrStore) Attr(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attrs[name]
}

// Read relit l'export courant depuis l'attribut de données. false si aucun
// export n'a encore été écrit ou si le contenu est illisible.
func (a *AttrStore) Read() (model.ExportData, bool) {
	a.mu.Lock()
	raw := a.attrs[DataAttribute]
	a.mu.Unlock()

	if raw == "" {
		return model.ExportData{}, false
	}
	var data model.ExportData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return model.ExportData{}, false
	}
	return data, true
}
