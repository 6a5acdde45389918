// Package supervisor pilote le cycle de vie par onglet : détection des
// changements d'identité vidéo (navigation SPA sans rechargement),
// invalidation du cache et ré-acquisition des métadonnées. Il n'y a pas
// d'ordonnanceur central : chaque notification (événement de navigation,
// sondage périodique de l'adresse) ré-évalue indépendamment si un reset
// s'impose en comparant l'identité observée à la dernière identité confirmée.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/patrickprogramme/subcatch/pkg/model"
)

// State est l'état du superviseur pour un onglet.
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateReady        State = "ready"
	StateInvalidating State = "invalidating"
	StateDegraded     State = "degraded"
)

// Valeurs de sondage : 500 ms entre tentatives, 20 tentatives au plus
// (10 s), après quoi on sert ce qu'on a plutôt que de bloquer l'UI.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollAttempts = 20
)

// IdentitySource lit l'identité vidéo actuellement observable dans
// l'environnement vivant (l'adresse courante). "" si aucune vidéo.
type IdentitySource interface {
	CurrentVideoID() string
}

// InfoProvider est le fournisseur d'infos page : il peut être indisponible
// pendant toute la durée de chargement de la plateforme — l'appelant sonde,
// il ne suppose jamais la disponibilité synchrone.
type InfoProvider interface {
	VideoInfo(ctx context.Context) (model.VideoInfo, error)
}

// Hooks relie le superviseur au reste du pipeline. Tous optionnels.
type Hooks struct {
	// OnReset : vider le store et invalider les requêtes en vol. Appelé
	// exactement une fois par changement d'identité détecté.
	OnReset func()
	// OnReady : la liste de pistes correspondant à l'identité courante est là.
	OnReady func(model.VideoInfo)
	// OnDegraded : identité jamais confirmée dans le délai ; info contient les
	// dernières métadonnées observées (possiblement partielles ou zéro).
	OnDegraded func(model.VideoInfo)
}

// Supervisor : machine à états par onglet. Les méthodes sont sûres pour des
// notifications concurrentes ; une navigation survenant pendant une
// acquisition abandonne l'acquisition en cours (génération périmée).
type Supervisor struct {
	ids   IdentitySource
	info  InfoProvider
	hooks Hooks

	pollInterval time.Duration
	pollAttempts int

	mu            sync.Mutex
	state         State
	lastConfirmed string // dernière identité vidéo confirmée
	generation    uint64 // incrémentée à chaque reset, invalide les acquisitions en cours
}

func New(ids IdentitySource, info InfoProvider, hooks Hooks) *Supervisor {
	return &Supervisor{
		ids:          ids,
		info:         info,
		hooks:        hooks,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
		state:        StateIdle,
	}
}

// SetPolling ajuste le sondage (tests).
func (s *Supervisor) SetPolling(interval time.Duration, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval > 0 {
		s.pollInterval = interval
	}
	if attempts > 0 {
		s.pollAttempts = attempts
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastIdentity retourne la dernière identité vidéo confirmée.
func (s *Supervisor) LastIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfirmed
}

// HandleNavigation est le point d'entrée des notifications externes. Il lit
// l'identité observée, déclenche l'invalidation si elle diverge de la
// dernière identité confirmée, puis acquiert les métadonnées de la nouvelle
// vidéo. Retourne sans rien faire si aucune vidéo n'est observable ou si
// l'identité est inchangée et l'état déjà stable.
func (s *Supervisor) HandleNavigation(ctx context.Context) error {
	observed := s.ids.CurrentVideoID()
	if observed == "" {
		return nil
	}

	s.mu.Lock()
	if observed == s.lastConfirmed && s.state == StateReady {
		s.mu.Unlock()
		return nil // rien à faire, même vidéo déjà acquise
	}

	// changement d'identité confirmée -> invalidation, une seule fois
	changed := s.lastConfirmed != "" && observed != s.lastConfirmed
	if changed {
		s.state = StateInvalidating
	}
	s.generation++
	gen := s.generation
	s.state = StateAcquiring
	s.mu.Unlock()

	if changed && s.hooks.OnReset != nil {
		s.hooks.OnReset()
	}

	return s.acquire(ctx, observed, gen)
}

// acquire sonde le fournisseur d'infos jusqu'à obtenir des métadonnées dont
// l'identité correspond à expected. Épuisement -> Degraded avec les dernières
// infos observées : on ne bloque jamais l'UI indéfiniment.
func (s *Supervisor) acquire(ctx context.Context, expected string, gen uint64) error {
	var last model.VideoInfo

	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		if s.stale(gen) {
			return nil // une navigation plus récente a pris le relais
		}

		info, err := s.info.VideoInfo(ctx)
		if err == nil {
			last = info
			if info.VideoID == expected {
				s.mu.Lock()
				if s.generation != gen {
					s.mu.Unlock()
					return nil
				}
				s.lastConfirmed = expected
				s.state = StateReady
				s.mu.Unlock()
				if s.hooks.OnReady != nil {
					s.hooks.OnReady(info)
				}
				return nil
			}
		}

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.stale(gen) {
		return nil
	}
	s.mu.Lock()
	s.state = StateDegraded
	s.mu.Unlock()
	log.Printf("supervisor: identité %s jamais confirmée, mode dégradé", expected)
	if s.hooks.OnDegraded != nil {
		s.hooks.OnDegraded(last)
	}
	return fmt.Errorf("supervisor: acquisition de %s non confirmée après %d tentatives", expected, s.pollAttempts)
}

func (s *Supervisor) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen
}

// RunPolling sonde périodiquement l'identité jusqu'à annulation du contexte :
// c'est la surveillance d'adresse qui rattrape les navigations SPA sans
// événement dédié.
func (s *Supervisor) RunPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.HandleNavigation(ctx); err != nil && ctx.Err() == nil {
				log.Printf("supervisor: navigation: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
