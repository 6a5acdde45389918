package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Timeouts recommandés : 15 s pour les requêtes de données, 2 s pour les
// vérifications de statut (qui tolèrent la latence via Poll).
const (
	DefaultCallTimeout   = 15 * time.Second
	DefaultStatusTimeout = 2 * time.Second

	// Poll : jusqu'à 20 tentatives espacées de 100 ms.
	DefaultPollAttempts = 20
	DefaultPollInterval = 100 * time.Millisecond
)

// Erreurs exportées, distinguables par l'appelant : un timeout n'est pas
// "pas de données".
var (
	ErrTimeout  = errors.New("bridge: délai de réponse dépassé")
	ErrCanceled = errors.New("bridge: requête invalidée")
	ErrRemote   = errors.New("bridge: erreur côté distant")
)

// Result est la valeur de résolution d'une requête. Les appels inter-contextes
// se résolvent toujours en valeur, jamais en panique traversant la frontière.
type Result struct {
	OK      bool
	Error   string
	Payload json.RawMessage
}

// pendingRequest corrèle une requête sortante à sa réponse ou son timeout.
// Résolution exactement-une-fois : première réponse ou timeout, le reste est
// un no-op.
type pendingRequest struct {
	id       string
	issuedAt time.Time
	ch       chan Result
	timer    *time.Timer
	err      error // positionné à la résolution si échec (timeout, annulation)
	resolved bool
}

// Caller émet des requêtes corrélées sur le bus et attend les réponses.
// Un Caller par contexte d'exécution, identifié par son tag source.
type Caller struct {
	bus    Bus
	source string

	mu      sync.Mutex
	pending map[string]*pendingRequest
	unsub   func()

	seq atomic.Uint64
}

// NewCaller branche le caller sur le bus. source est le tag du contexte
// appelant (SourceContent, SourcePopup, ...).
func NewCaller(bus Bus, source string) *Caller {
	c := &Caller{
		bus:     bus,
		source:  source,
		pending: make(map[string]*pendingRequest),
	}
	c.unsub = bus.Subscribe(c.onEnvelope)
	return c
}

// nextRequestID : compteur monotone + suffixe aléatoire. L'horloge murale
// seule ne suffit pas, deux émissions rapprochées pourraient entrer en
// collision.
func (c *Caller) nextRequestID() string {
	return fmt.Sprintf("%d-%s", c.seq.Add(1), uuid.NewString()[:8])
}

// Seq retourne le dernier numéro d'émission attribué. Sert à estampiller les
// captures pour rejeter les écrasements périmés.
func (c *Caller) Seq() uint64 { return c.seq.Load() }

// onEnvelope ne traite que les réponses marquées de notre extension. Un
// ReplyTo inconnu ou déjà résolu est ignoré (idempotent, pas une erreur).
func (c *Caller) onEnvelope(env Envelope) {
	if !env.IsOurs() || !env.IsReply() {
		return
	}
	c.resolve(env.ReplyTo, Result{OK: env.OK, Error: env.Error, Payload: env.Payload}, nil)
}

// resolve résout l'entrée pending exactement une fois et coupe son timer.
func (c *Caller) resolve(id string, res Result, failure error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.resolved {
		c.mu.Unlock()
		return // réponse tardive ou inconnue : no-op
	}
	p.resolved = true
	p.err = failure
	delete(c.pending, id)
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- res
}

// Call émet une requête typée et attend la réponse ou le timeout.
// - payload est sérialisé en JSON (nil accepté).
// - timeout <= 0 : DefaultCallTimeout.
// Retourne ErrTimeout si aucune réponse dans le délai, ErrRemote (enrobée du
// message distant) si le distant a répondu en échec.
func (c *Caller) Call(ctx context.Context, msgType string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("bridge: marshal payload: %w", err)
		}
		raw = b
	}

	id := c.nextRequestID()
	p := &pendingRequest{
		id:       id,
		issuedAt: time.Now(),
		ch:       make(chan Result, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		c.resolve(id, Result{}, ErrTimeout)
	})

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	c.bus.Post(Envelope{
		Source:    c.source,
		Type:      msgType,
		RequestID: id,
		Payload:   raw,
	})

	select {
	case res := <-p.ch:
		if p.err != nil {
			return nil, p.err
		}
		if !res.OK {
			if res.Error == "" {
				return nil, ErrRemote
			}
			return nil, fmt.Errorf("%w: %s", ErrRemote, res.Error)
		}
		return res.Payload, nil
	case <-ctx.Done():
		c.resolve(id, Result{}, ErrCanceled)
		return nil, ctx.Err()
	}
}

// Notify émet un événement sans réponse attendue.
func (c *Caller) Notify(msgType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	c.bus.Post(Envelope{Source: c.source, Type: msgType, Payload: raw})
}

// CancelAll invalide toutes les requêtes en vol : chacune se résout avec
// ErrCanceled. Appelé lors d'un reset de navigation — les réponses des
// requêtes périmées qui arriveraient ensuite sont ignorées.
func (c *Caller) CancelAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.resolve(id, Result{}, ErrCanceled)
	}
}

// Close désabonne le caller du bus et invalide les requêtes en vol.
func (c *Caller) Close() {
	c.CancelAll()
	if c.unsub != nil {
		c.unsub()
	}
}

// Poll ré-essaie fn jusqu'à succès : au plus attempts tentatives espacées
// d'interval. fn retourne (true, nil) pour arrêter. Pour les vérifications de
// statut tolérantes à la latence, à combiner avec DefaultStatusTimeout côté
// Call.
func Poll(ctx context.Context, attempts int, interval time.Duration, fn func(context.Context) (bool, error)) error {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		done, err := fn(ctx)
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return fmt.Errorf("bridge: poll épuisé après %d tentatives: %w", attempts, lastErr)
	}
	return fmt.Errorf("bridge: poll épuisé après %d tentatives: %w", attempts, ErrTimeout)
}
