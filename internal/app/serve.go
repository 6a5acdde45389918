package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/patrickprogramme/subcatch/internal/badge"
	"github.com/patrickprogramme/subcatch/internal/bilibili"
	"github.com/patrickprogramme/subcatch/internal/bridge"
	"github.com/patrickprogramme/subcatch/internal/controller"
	"github.com/patrickprogramme/subcatch/internal/export"
	"github.com/patrickprogramme/subcatch/internal/session"
	"github.com/patrickprogramme/subcatch/internal/supervisor"
	"github.com/patrickprogramme/subcatch/pkg/model"
)

// serveTabID identifie l'onglet unique hébergé par le mode serveur.
const serveTabID = 0

// runServe héberge le pipeline complet d'un onglet : session, contrôleur et
// superviseur branchés sur un bus central, exposé en websocket pour que les
// contextes externes (page, popup) s'y raccordent.
func (a *App) runServe(ctx context.Context) error {
	bus := bridge.NewMemBus()
	defer bus.Close()

	sess := session.New()
	store := export.NewAttrStore()
	store.OnUpdate = func(event string, at time.Time) {
		log.Printf("app: export mis à jour (%s à %s)", event, at.Format(time.RFC3339))
	}

	var ind badge.Indicator = badge.Noop{}
	if a.cfg.ShowBadge {
		ind = badge.NewLogIndicator()
	}
	// l'onglet hébergé cesse d'exister à l'arrêt : badge effacé
	defer ind.Clear(serveTabID)

	biliClient := bilibili.New(nil)
	biliClient.SetAPIBase(a.cfg.Bilibili.APIBase)
	biliClient.SetTimeout(a.cfg.Bilibili.Timeout.Std())

	pageCaller := bridge.NewCaller(bus, bridge.SourceContent)
	defer pageCaller.Close()

	ctrl := controller.New(controller.Options{
		TabID:          serveTabID,
		Platform:       model.Platform(a.flags.Platform),
		Session:        sess,
		Caller:         pageCaller,
		Bus:            bus,
		Export:         store,
		Badge:          ind,
		Bilibili:       biliClient,
		CallTimeout:    a.cfg.Bridge.CallTimeout.Std(),
		StatusTimeout:  a.cfg.Bridge.StatusTimeout.Std(),
		PollAttempts:   a.cfg.Bridge.PollAttempts,
		PollInterval:   a.cfg.Bridge.PollInterval.Std(),
		DebounceWindow: a.cfg.Capture.DebounceWindow.Std(),
	})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	// le superviseur sonde l'identité observable (servie par le contexte
	// page via le bus) et invalide la session quand elle change
	ids := &busIdentitySource{ctx: ctx, caller: pageCaller, timeout: a.cfg.Bridge.StatusTimeout.Std()}
	sup := supervisor.New(ids, ctrl, ctrl.Hooks())
	sup.SetPolling(a.cfg.Supervisor.PollInterval.Std(), a.cfg.Supervisor.PollAttempts)
	go sup.RunPolling(ctx, a.cfg.Supervisor.PollInterval.Std())

	mux := http.NewServeMux()
	mux.HandleFunc("/bus", func(w http.ResponseWriter, r *http.Request) {
		ws, err := bridge.Upgrade(w, r)
		if err != nil {
			log.Printf("app: upgrade websocket: %v", err)
			return
		}
		relay(ctx, bus, ws)
	})

	srv := &http.Server{Addr: a.flags.Listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.ui.PrintInfo(ctx, fmt.Sprintf("bus exposé sur ws://%s/bus", a.flags.Listen))

	// le terminal tient la boucle de vie : Ctrl+C ou annulation du contexte
	exitCh := make(chan struct{})
	go func() {
		defer close(exitCh)
		_ = a.ui.WaitForExit(ctx)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serveur de bus: %w", err)
	case <-exitCh:
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("arrêt du serveur: %w", err)
	}
	return nil
}

// relay fait le pont entre le bus central et un pair websocket : chaque
// message traverse dans les deux sens jusqu'à la fermeture du pair.
func relay(ctx context.Context, central *bridge.MemBus, ws *bridge.WSBus) {
	unsubCentral := central.Subscribe(ws.Post)
	unsubWS := ws.Subscribe(central.Post)
	defer func() {
		unsubCentral()
		unsubWS()
		ws.Close()
	}()

	select {
	case <-ws.Done():
	case <-ctx.Done():
	}
}

// busIdentitySource lit l'identité vidéo observable en interrogeant le
// contexte page. Indisponibilité ou timeout -> "" (aucune vidéo observable),
// le superviseur retentera au prochain tick.
type busIdentitySource struct {
	ctx     context.Context
	caller  *bridge.Caller
	timeout time.Duration
}

func (s *busIdentitySource) CurrentVideoID() string {
	raw, err := s.caller.Call(s.ctx, controller.MsgGetVideoInfo, nil, s.timeout)
	if err != nil {
		return ""
	}
	var info model.VideoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ""
	}
	return info.VideoID
}
