package bridge

import (
	"log"
	"sync"
)

// Bus est le substrat de messagerie : diffusion fire-and-forget, sans
// corrélation de réponse. Deux implémentations : MemBus (intra-processus,
// tests) et WSBus (inter-processus via websocket).
type Bus interface {
	// Post diffuse l'enveloppe à tous les abonnés. Ne bloque pas l'appelant.
	Post(Envelope)
	// Subscribe enregistre un handler et retourne la fonction de désabonnement.
	Subscribe(fn func(Envelope)) (cancel func())
}

// subscriberBuffer dimensionne la file par abonné ; au-delà on jette, le
// substrat ne garantit pas la livraison.
const subscriberBuffer = 64

type subscriber struct {
	ch   chan Envelope
	done chan struct{}
}

// MemBus : bus en mémoire. Chaque abonné a sa goroutine de pompe, ce qui
// préserve l'ordre de livraison par abonné et permet à un handler de re-poster
// sans interblocage.
type MemBus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[int]*subscriber)}
}

func (b *MemBus) Post(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- env:
		default:
			// abonné saturé : message perdu, comme sur le vrai canal
			log.Printf("bridge: abonné saturé, message %s perdu", env.Type)
		}
	}
}

func (b *MemBus) Subscribe(fn func(Envelope)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	s := &subscriber{
		ch:   make(chan Envelope, subscriberBuffer),
		done: make(chan struct{}),
	}
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		for {
			select {
			case env := <-s.ch:
				fn(env)
			case <-s.done:
				return
			}
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		close(s.done)
	}
}

// Close désabonne tout le monde ; les Post suivants sont ignorés.
func (b *MemBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.done)
	}
}
