package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc traite le payload d'une requête et retourne la valeur de
// réponse (sérialisée en JSON) ou une erreur. L'erreur est rapportée au
// demandeur comme {ok:false, error}, jamais comme une panique traversant le
// bus.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// EventFunc traite une notification sans réponse attendue.
type EventFunc func(payload json.RawMessage)

// Responder répond aux requêtes adressées à un contexte. Le dispatch se fait
// par une table exhaustive type -> handler : un type inconnu est répondu en
// échec explicite plutôt qu'ignoré en silence.
type Responder struct {
	bus      Bus
	source   string
	handlers map[string]HandlerFunc
	events   map[string]EventFunc
	unsub    func()
}

// NewResponder construit le responder ; appeler Handle/HandleEvent puis Start.
func NewResponder(bus Bus, source string) *Responder {
	return &Responder{
		bus:      bus,
		source:   source,
		handlers: make(map[string]HandlerFunc),
		events:   make(map[string]EventFunc),
	}
}

// Handle enregistre le handler pour un type de requête.
func (r *Responder) Handle(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// HandleEvent enregistre le handler pour un type d'événement.
func (r *Responder) HandleEvent(msgType string, fn EventFunc) {
	r.events[msgType] = fn
}

// Start branche le responder sur le bus. ctx borne l'exécution des handlers.
func (r *Responder) Start(ctx context.Context) {
	r.unsub = r.bus.Subscribe(func(env Envelope) {
		r.onEnvelope(ctx, env)
	})
}

// Stop désabonne le responder.
func (r *Responder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
}

func (r *Responder) onEnvelope(ctx context.Context, env Envelope) {
	if !env.IsOurs() || env.Source == r.source {
		return // bruit d'autres scripts, ou écho de nos propres messages
	}

	if env.IsEvent() {
		if fn, ok := r.events[env.Type]; ok {
			fn(env.Payload)
		}
		return
	}
	if !env.IsRequest() {
		return
	}

	fn, ok := r.handlers[env.Type]
	if !ok {
		// un type non géré par ce contexte n'est pas forcément une erreur :
		// plusieurs responders partagent le bus. On ne répond que si aucun
		// autre ne le fera — impossible à savoir ici, donc on ignore.
		return
	}

	// les handlers doivent rester rapides et non bloquants pour le bus :
	// exécution hors de la goroutine de livraison
	go func() {
		reply := Envelope{Source: r.source, ReplyTo: env.RequestID}
		value, err := fn(ctx, env.Payload)
		if err != nil {
			reply.OK = false
			reply.Error = err.Error()
		} else {
			b, merr := json.Marshal(value)
			if merr != nil {
				reply.OK = false
				reply.Error = fmt.Sprintf("marshal reply: %v", merr)
			} else {
				reply.OK = true
				reply.Payload = b
			}
		}
		r.bus.Post(reply)
	}()
}
