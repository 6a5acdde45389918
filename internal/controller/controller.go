// Package controller est le cœur du contexte content-script : il possède la
// session de l'onglet, répond aux requêtes du popup (statut, extraction,
// rafraîchissement) et réagit aux captures remontées par le contexte page.
// Toute communication avec les autres contextes passe par le bus ; aucun
// autre contexte ne touche la session directement.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/patrickprogramme/subcatch/internal/badge"
	"github.com/patrickprogramme/subcatch/internal/bilibili"
	"github.com/patrickprogramme/subcatch/internal/bridge"
	"github.com/patrickprogramme/subcatch/internal/export"
	"github.com/patrickprogramme/subcatch/internal/intercept"
	"github.com/patrickprogramme/subcatch/internal/normalize"
	"github.com/patrickprogramme/subcatch/internal/session"
	"github.com/patrickprogramme/subcatch/internal/supervisor"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

// Types de messages de la surface popup et du dialogue avec le contexte page.
const (
	MsgGetStatus       = "GET_STATUS"
	MsgExtractSubtitle = "EXTRACT_SUBTITLE"
	MsgRefreshInfo     = "REFRESH_INFO"

	MsgGetVideoInfo     = "GET_VIDEO_INFO"
	MsgReloadSubtitle   = "RELOAD_SUBTITLE"
	MsgSubtitleDetected = "SUBTITLE_DETECTED"
)

// DefaultDebounceWindow : deux détections de la même langue à moins de cette
// distance ne produisent qu'une notification utilisateur.
const DefaultDebounceWindow = 3 * time.Second

// Erreurs d'extraction, distinguables par l'appelant : un timeout de
// messagerie, une absence de capture et un payload illisible ne se présentent
// pas pareil à l'utilisateur.
var (
	ErrNoVideo    = errors.New("aucune vidéo détectée sur cette page")
	ErrNoCapture  = errors.New("aucun sous-titre capturé pour cette vidéo")
	ErrUnreadable = errors.New("sous-titres capturés illisibles")
)

// TrackSummary est l'entrée de la liste de pistes telle que le popup
// l'affiche.
type TrackSummary struct {
	Lan    string `json:"lan"`
	LanDoc string `json:"lan_doc"`
}

// StatusResponse est la réponse GET_STATUS.
type StatusResponse struct {
	Platform          model.Platform  `json:"platform"`
	VideoInfo         model.VideoInfo `json:"videoInfo"`
	SubtitleList      []TrackSummary  `json:"subtitleList"`
	HasSubtitles      bool            `json:"hasSubtitles"`
	CapturedCount     int             `json:"capturedCount"`
	CapturedLanguages []string        `json:"capturedLanguages"`
}

// ExtractRequest est le payload EXTRACT_SUBTITLE.
type ExtractRequest struct {
	Language string `json:"language"`
}

// reloadRequest demande au contexte page de re-déclencher le chargement des
// sous-titres (off/on côté lecteur).
type reloadRequest struct {
	Language string `json:"language"`
}

// Options assemble les dépendances du contrôleur. Session, Caller et Bus sont
// requis ; le reste a des valeurs par défaut raisonnables.
type Options struct {
	TabID    int
	Platform model.Platform

	Session *session.Session
	// Caller parle au contexte page (infos vidéo, relance des sous-titres).
	Caller *bridge.Caller
	// Bus porte les requêtes entrantes du popup et les événements du contexte
	// page.
	Bus bridge.Bus

	Export export.Sink
	Badge  badge.Indicator
	// Bilibili est le fournisseur fetch-direct ; requis seulement si Platform
	// est bilibili.
	Bilibili *bilibili.Client

	CallTimeout   time.Duration
	StatusTimeout time.Duration
	PollAttempts  int
	PollInterval  time.Duration

	DebounceWindow time.Duration

	// OnDetected est appelé pour chaque notification qui franchit le
	// dédoublonnage (affichage utilisateur). Optionnel.
	OnDetected func(intercept.CaptureEvent)

	// Now remplace l'horloge (tests de dédoublonnage).
	Now func() time.Time
}

// Controller répond sur le bus avec le tag SourceContent.
type Controller struct {
	tabID    int
	platform model.Platform

	session *session.Session
	caller  *bridge.Caller
	exp     export.Sink
	badge   badge.Indicator
	bili    *bilibili.Client

	callTimeout   time.Duration
	statusTimeout time.Duration
	pollAttempts  int
	pollInterval  time.Duration

	debounceWindow time.Duration
	onDetected     func(intercept.CaptureEvent)
	now            func() time.Time

	mu           sync.Mutex
	lastNotified map[string]time.Time // par langue

	responder *bridge.Responder
}

func New(opts Options) *Controller {
	c := &Controller{
		tabID:          opts.TabID,
		platform:       opts.Platform,
		session:        opts.Session,
		caller:         opts.Caller,
		exp:            opts.Export,
		badge:          opts.Badge,
		bili:           opts.Bilibili,
		callTimeout:    opts.CallTimeout,
		statusTimeout:  opts.StatusTimeout,
		pollAttempts:   opts.PollAttempts,
		pollInterval:   opts.PollInterval,
		debounceWindow: opts.DebounceWindow,
		onDetected:     opts.OnDetected,
		now:            opts.Now,
		lastNotified:   make(map[string]time.Time),
	}
	if c.platform == "" {
		c.platform = model.PlatformYouTube
	}
	if c.badge == nil {
		c.badge = badge.Noop{}
	}
	if c.callTimeout <= 0 {
		c.callTimeout = bridge.DefaultCallTimeout
	}
	if c.statusTimeout <= 0 {
		c.statusTimeout = bridge.DefaultStatusTimeout
	}
	if c.pollAttempts <= 0 {
		c.pollAttempts = bridge.DefaultPollAttempts
	}
	if c.pollInterval <= 0 {
		c.pollInterval = bridge.DefaultPollInterval
	}
	if c.debounceWindow == 0 {
		c.debounceWindow = DefaultDebounceWindow
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.responder = bridge.NewResponder(opts.Bus, bridge.SourceContent)
	c.responder.Handle(MsgGetStatus, c.handleGetStatus)
	c.responder.Handle(MsgExtractSubtitle, c.handleExtract)
	c.responder.Handle(MsgRefreshInfo, c.handleRefreshInfo)
	c.responder.HandleEvent(MsgSubtitleDetected, c.onSubtitleDetected)
	return c
}

// Start branche le contrôleur sur le bus.
func (c *Controller) Start(ctx context.Context) { c.responder.Start(ctx) }

// Stop le désabonne.
func (c *Controller) Stop() { c.responder.Stop() }

// refreshInfo interroge le contexte page et remplace les métadonnées de
// session si une vidéo est identifiée.
func (c *Controller) refreshInfo(ctx context.Context, timeout time.Duration) (model.VideoInfo, error) {
	raw, err := c.caller.Call(ctx, MsgGetVideoInfo, nil, timeout)
	if err != nil {
		return model.VideoInfo{}, fmt.Errorf("infos vidéo: %w", err)
	}
	var info model.VideoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return model.VideoInfo{}, fmt.Errorf("infos vidéo: décodage: %w", err)
	}
	if info.VideoID == "" {
		return model.VideoInfo{}, ErrNoVideo
	}
	c.session.SetVideoInfo(info)
	return info, nil
}

// handleGetStatus sert l'état courant. Le rafraîchissement préalable est
// best-effort avec le timeout court : si le contexte page ne répond pas à
// temps, on sert le dernier état connu plutôt que de faire attendre le popup.
func (c *Controller) handleGetStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	if _, err := c.refreshInfo(ctx, c.statusTimeout); err != nil {
		log.Printf("controller: statut: infos non rafraîchies: %v", err)
	}

	snap := c.session.SnapshotStatus()
	list := make([]TrackSummary, 0, len(snap.Tracks))
	for _, t := range snap.Tracks {
		doc := t.DisplayName
		if doc == "" {
			doc = t.LanguageCode
		}
		list = append(list, TrackSummary{Lan: t.LanguageCode, LanDoc: doc})
	}

	return StatusResponse{
		Platform:          c.platform,
		VideoInfo:         snap.VideoInfo,
		SubtitleList:      list,
		HasSubtitles:      len(snap.Tracks) > 0 || snap.HasData,
		CapturedCount:     snap.CapturedCount,
		CapturedLanguages: snap.Languages,
	}, nil
}

// handleRefreshInfo force une re-lecture des métadonnées, avec le timeout
// long cette fois : l'appelant a explicitement demandé d'attendre.
func (c *Controller) handleRefreshInfo(ctx context.Context, _ json.RawMessage) (any, error) {
	return c.refreshInfo(ctx, c.callTimeout)
}

// handleExtract produit l'export final pour la langue demandée.
func (c *Controller) handleExtract(ctx context.Context, payload json.RawMessage) (any, error) {
	var req ExtractRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("requête d'extraction: %w", err)
		}
	}

	info := c.session.VideoInfo()
	if info.VideoID == "" {
		var err error
		if info, err = c.refreshInfo(ctx, c.statusTimeout); err != nil {
			return nil, err
		}
	}

	var (
		data model.ExportData
		err  error
	)
	switch c.platform {
	case model.PlatformBilibili:
		data, err = c.extractDirect(ctx, info, req.Language)
	default:
		data, err = c.extractCaptured(ctx, info, req.Language)
	}
	if err != nil {
		return nil, err
	}

	if c.exp != nil {
		if werr := c.exp.Write(data); werr != nil {
			return nil, fmt.Errorf("écriture de l'export: %w", werr)
		}
	}
	c.badge.Set(c.tabID, badge.StatusReady)
	return data, nil
}

// extractCaptured sert les plateformes interceptées : la donnée doit déjà
// être dans la session. Si la langue n'a jamais été capturée, on demande au
// lecteur de recharger ses sous-titres et on sonde la session le temps que la
// réponse traverse le pipeline de capture.
func (c *Controller) extractCaptured(ctx context.Context, info model.VideoInfo, lang string) (model.ExportData, error) {
	captured, ok := c.session.CaptureFor(lang)
	if !ok {
		c.caller.Notify(MsgReloadSubtitle, reloadRequest{Language: lang})
		err := bridge.Poll(ctx, c.pollAttempts, c.pollInterval, func(context.Context) (bool, error) {
			captured, ok = c.session.CaptureFor(lang)
			return ok, nil
		})
		if err != nil || !ok {
			return model.ExportData{}, ErrNoCapture
		}
	}

	cues := normalize.Normalize(captured.Data, captured.Format)
	if len(cues) == 0 {
		return model.ExportData{}, ErrUnreadable
	}
	return model.NewExportData(c.platform, info, captured.LanguageCode, cues), nil
}

// extractDirect sert les plateformes à fetch direct (bilibili) : liste de
// pistes puis téléchargement de la piste choisie, sans rien attendre du
// trafic du lecteur.
func (c *Controller) extractDirect(ctx context.Context, info model.VideoInfo, lang string) (model.ExportData, error) {
	if c.bili == nil {
		return model.ExportData{}, fmt.Errorf("extraction directe non configurée")
	}

	tracks := info.Tracks
	if len(tracks) == 0 {
		var err error
		tracks, err = c.bili.TrackList(ctx, info.VideoID, info.PartID)
		if err != nil {
			return model.ExportData{}, err
		}
		info.Tracks = tracks
		c.session.SetVideoInfo(info)
	}

	track, err := bilibili.PickTrack(tracks, lang)
	if err != nil {
		return model.ExportData{}, ErrNoCapture
	}
	cues, err := c.bili.FetchCues(ctx, track)
	if err != nil {
		return model.ExportData{}, err
	}
	if len(cues) == 0 {
		return model.ExportData{}, ErrUnreadable
	}
	return model.NewExportData(c.platform, info, track.LanguageCode, cues), nil
}

// onSubtitleDetected reçoit les événements de capture du contexte page. La
// session est déjà à jour (l'upsert a eu lieu à la capture) ; il ne reste que
// la notification utilisateur, dédoublonnée par langue dans la fenêtre
// configurée.
func (c *Controller) onSubtitleDetected(payload json.RawMessage) {
	var ev intercept.CaptureEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("controller: événement de capture illisible: %v", err)
		return
	}

	now := c.now()
	c.mu.Lock()
	last, seen := c.lastNotified[ev.LanguageCode]
	if seen && now.Sub(last) < c.debounceWindow {
		c.mu.Unlock()
		return // même langue notifiée trop récemment
	}
	c.lastNotified[ev.LanguageCode] = now
	c.mu.Unlock()

	c.badge.Set(c.tabID, badge.StatusPending)
	log.Printf("controller: sous-titres détectés (%s, %s)", ev.LanguageCode, ev.Format)
	if c.onDetected != nil {
		c.onDetected(ev)
	}
}

// VideoInfo implémente supervisor.InfoProvider : le superviseur sonde cette
// méthode jusqu'à ce que l'identité retournée corresponde à celle observée.
func (c *Controller) VideoInfo(ctx context.Context) (model.VideoInfo, error) {
	return c.refreshInfo(ctx, c.statusTimeout)
}

// Hooks relie le cycle de vie du superviseur au contrôleur.
func (c *Controller) Hooks() supervisor.Hooks {
	return supervisor.Hooks{
		OnReset: func() {
			c.session.Reset()
			c.caller.CancelAll()
			c.mu.Lock()
			c.lastNotified = make(map[string]time.Time)
			c.mu.Unlock()
			c.badge.Clear(c.tabID)
		},
		OnReady: func(info model.VideoInfo) {
			c.session.SetVideoInfo(info)
			if info.HasTracks() {
				c.badge.Set(c.tabID, badge.StatusPending)
			} else {
				c.badge.Set(c.tabID, badge.StatusNone)
			}
		},
		OnDegraded: func(info model.VideoInfo) {
			// on sert ce qu'on a : des métadonnées partielles valent mieux
			// qu'un popup vide
			if info.VideoID != "" {
				c.session.SetVideoInfo(info)
			}
			c.badge.Set(c.tabID, badge.StatusNone)
		},
	}
}
