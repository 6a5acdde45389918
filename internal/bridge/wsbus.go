package bridge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Paramètres du transport websocket.
const (
	wsDialTimeout    = 10 * time.Second
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 16 * 1024 * 1024 // 16MB, les payloads timedtext peuvent être gros
)

// WSBus transporte les enveloppes entre processus via une connexion
// websocket : c'est le pont entre le contexte page réel (navigateur) et les
// contextes hébergés ici. Chaque enveloppe est une trame JSON. La sémantique
// reste fire-and-forget : une trame illisible est jetée, pas retransmise.
type WSBus struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla n'autorise qu'un writer concurrent

	mu     sync.Mutex
	subs   map[int]func(Envelope)
	nextID int

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS ouvre la connexion vers l'hôte pair et démarre la boucle de lecture.
func DialWS(ctx context.Context, url string) (*WSBus, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	return NewWSBus(conn), nil
}

// NewWSBus enveloppe une connexion déjà établie (côté accept comme côté dial).
func NewWSBus(conn *websocket.Conn) *WSBus {
	b := &WSBus{
		conn:   conn,
		subs:   make(map[int]func(Envelope)),
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxMessageSize)
	go b.readLoop()
	return b
}

// Upgrade promeut une requête HTTP entrante en WSBus.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSBus, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// le pair est local (page injectée <-> hôte) ; pas de contrôle d'origine
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: upgrade: %w", err)
	}
	return NewWSBus(conn), nil
}

func (b *WSBus) readLoop() {
	defer b.Close()
	for {
		var env Envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("bridge: lecture websocket: %v", err)
			}
			return
		}
		b.mu.Lock()
		fns := make([]func(Envelope), 0, len(b.subs))
		for _, fn := range b.subs {
			fns = append(fns, fn)
		}
		b.mu.Unlock()
		for _, fn := range fns {
			fn(env)
		}
	}
}

// Post sérialise l'enveloppe et l'écrit sur la connexion. Une erreur d'écriture
// est journalisée et le message perdu : le substrat ne garantit pas la
// livraison, la récupération se fait par timeout côté Caller.
func (b *WSBus) Post(env Envelope) {
	select {
	case <-b.closed:
		return
	default:
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := b.conn.WriteJSON(env); err != nil {
		log.Printf("bridge: écriture websocket %s: %v", env.Type, err)
	}
}

// Subscribe enregistre un handler appelé pour chaque trame reçue.
func (b *WSBus) Subscribe(fn func(Envelope)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Close ferme la connexion ; idempotent.
func (b *WSBus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()
		_ = b.conn.Close()
	})
}

// Done est fermé quand la connexion est terminée.
func (b *WSBus) Done() <-chan struct{} { return b.closed }
