// Package intercept observe le trafic réseau sortant du lecteur vidéo et
// capture au vol les réponses des requêtes de sous-titres. C'est l'endroit
// unique où l'interception "par décoration de la primitive de requête" est
// inévitable : la plateforme n'expose aucun endpoint stable pour ces données,
// elles ne transitent que dans le trafic vivant du lecteur.
package intercept

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickprogramme/subcatch/internal/normalize"
	"github.com/patrickprogramme/subcatch/internal/session"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

// DefaultPathMarker est le segment d'URL identifiant une requête de
// sous-titres (match par sous-chaîne, insensible à la casse).
const DefaultPathMarker = "timedtext"

// maxCaptureBytes borne la copie du corps ; au-delà on laisse passer la
// réponse sans capturer.
const maxCaptureBytes = 10_000_000

// langPattern extrait le code langue de l'URL de requête ; absent -> "unknown".
var langPattern = regexp.MustCompile(`[&?]lang=([^&]+)`)

// Sink reçoit les captures réalisées. *session.Session le satisfait
// directement ; le découplage sert aux tests.
type Sink interface {
	// VideoID retourne l'identité vidéo active ("" si inconnue).
	VideoID() string
	// UpsertCapture insère-ou-remplace par langue ; true si langue nouvelle.
	UpsertCapture(c session.CapturedCaption) (isNew bool)
}

// CaptureEvent notifie le contexte content-script qu'une langue NOUVELLE a été
// capturée. Les remplacements (même langue re-capturée) ne notifient pas :
// la dé-duplication des notifications utilisateur est volontairement distincte
// de l'upsert au niveau données.
type CaptureEvent struct {
	LanguageCode string          `json:"language"`
	Format       model.RawFormat `json:"format"`
	URL          string          `json:"url"`
	CapturedAt   time.Time       `json:"timestamp"`
}

// Transport décore un http.RoundTripper : chaque requête sortante est
// observée, celles dont l'URL contient le marqueur voient leur corps de
// réponse capturé après coup. Les requêtes concurrentes sont indépendantes,
// tout l'état est local à l'appel.
type Transport struct {
	base     http.RoundTripper
	marker   string
	maxBytes int64
	sink     Sink
	notify   func(CaptureEvent)

	// numéro d'ordre d'émission, estampillé sur chaque capture pour rejeter
	// les écrasements périmés côté session
	seq atomic.Uint64
}

// New construit le transport. base nil -> http.DefaultTransport ; notify nil
// accepté (pas de notification).
func New(base http.RoundTripper, sink Sink, notify func(CaptureEvent)) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:     base,
		marker:   DefaultPathMarker,
		maxBytes: maxCaptureBytes,
		sink:     sink,
		notify:   notify,
	}
}

// SetMarker remplace le marqueur d'URL. À appeler avant le premier RoundTrip.
func (t *Transport) SetMarker(marker string) {
	if marker != "" {
		t.marker = strings.ToLower(marker)
	}
}

// SetMaxBytes ajuste la borne de capture. À appeler avant le premier RoundTrip.
func (t *Transport) SetMaxBytes(n int64) {
	if n > 0 {
		t.maxBytes = n
	}
}

// RoundTrip laisse toujours passer la requête ; la capture est un effet de
// bord strictement non bloquant pour l'appelant. Un corps illisible ou
// non parseable est un non-événement, jamais une erreur remontée.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	if !strings.Contains(strings.ToLower(url), t.marker) {
		return t.base.RoundTrip(req)
	}

	// estampillage à l'émission : ordre + identité vidéo active. Une réponse
	// qui se résout après un changement d'identité sera jetée plutôt que de
	// corrompre la nouvelle session.
	seq := t.seq.Add(1)
	issuedID := t.sink.VideoID()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	resp.Body.Close()
	// l'appelant récupère un corps intact quoi qu'il arrive
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil || len(body) == 0 || int64(len(body)) > t.maxBytes {
		return resp, nil
	}

	t.capture(url, issuedID, seq, body)
	return resp, nil
}

// capture tente JSON puis XML ; si les deux échouent, abandon silencieux
// (toutes les URLs timedtext ne donnent pas des sous-titres exploitables).
func (t *Transport) capture(url, issuedID string, seq uint64, body []byte) {
	format, ok := normalize.Sniff(body)
	if !ok {
		return
	}

	// résolution : l'identité a-t-elle changé depuis l'émission ? Seules les
	// captures émises avant toute identité connue (amorçage) entrent sans
	// contrôle ; une émission sous une identité donnée ne vaut que pour elle,
	// y compris pendant la fenêtre post-reset où l'identité est vide.
	if issuedID != "" && issuedID != t.sink.VideoID() {
		return // capture tardive d'une vidéo précédente
	}

	data := make([]byte, len(body))
	copy(data, body)

	c := session.CapturedCaption{
		LanguageCode: LanguageFromURL(url),
		CapturedAt:   time.Now(),
		Format:       format,
		Data:         data,
		SourceURL:    url,
		Seq:          seq,
	}

	isNew := t.sink.UpsertCapture(c)
	if isNew && t.notify != nil {
		t.notify(CaptureEvent{
			LanguageCode: c.LanguageCode,
			Format:       c.Format,
			URL:          url,
			CapturedAt:   c.CapturedAt,
		})
	}
}

// LanguageFromURL extrait le code langue du paramètre lang de l'URL.
func LanguageFromURL(url string) string {
	if m := langPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return "unknown"
}
