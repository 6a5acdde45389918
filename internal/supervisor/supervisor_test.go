package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/patrickprogramme/subcatch/pkg/model"
)

// environnement de test : identité observable + fournisseur d'infos pilotables.
type fakeEnv struct {
	mu      sync.Mutex
	current string
	info    model.VideoInfo
	infoErr error
}

func (f *fakeEnv) CurrentVideoID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeEnv) VideoInfo(context.Context) (model.VideoInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeEnv) set(id string, info model.VideoInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = id
	f.info = info
	f.infoErr = err
}

func TestHandleNavigation_InitialAcquisitionNoReset(t *testing.T) {
	env := &fakeEnv{}
	env.set("V1", model.VideoInfo{VideoID: "V1", Title: "première"}, nil)

	resets := 0
	var ready model.VideoInfo
	s := New(env, env, Hooks{
		OnReset: func() { resets++ },
		OnReady: func(info model.VideoInfo) { ready = info },
	})
	s.SetPolling(time.Millisecond, 5)

	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	if resets != 0 {
		t.Errorf("resets = %d; want 0 (première acquisition, pas un changement)", resets)
	}
	if s.State() != StateReady || ready.VideoID != "V1" {
		t.Errorf("state = %s, ready = %+v; want ready/V1", s.State(), ready)
	}
}

func TestHandleNavigation_ResetOnIdentityChange(t *testing.T) {
	env := &fakeEnv{}
	env.set("V1", model.VideoInfo{VideoID: "V1"}, nil)

	resets := 0
	s := New(env, env, Hooks{OnReset: func() { resets++ }})
	s.SetPolling(time.Millisecond, 5)

	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("acquisition V1: %v", err)
	}

	// navigation SPA : V1 -> V2
	env.set("V2", model.VideoInfo{VideoID: "V2"}, nil)
	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("acquisition V2: %v", err)
	}

	if resets != 1 {
		t.Errorf("resets = %d; want exactement 1 par changement d'identité", resets)
	}
	if s.LastIdentity() != "V2" {
		t.Errorf("identité confirmée = %q; want V2", s.LastIdentity())
	}
}

func TestHandleNavigation_SameIdentityIsNoOp(t *testing.T) {
	env := &fakeEnv{}
	env.set("V1", model.VideoInfo{VideoID: "V1"}, nil)

	resets, readies := 0, 0
	s := New(env, env, Hooks{
		OnReset: func() { resets++ },
		OnReady: func(model.VideoInfo) { readies++ },
	})
	s.SetPolling(time.Millisecond, 5)

	for i := 0; i < 3; i++ {
		if err := s.HandleNavigation(context.Background()); err != nil {
			t.Fatalf("navigation %d: %v", i, err)
		}
	}
	if resets != 0 || readies != 1 {
		t.Errorf("resets = %d, readies = %d; want 0 et 1", resets, readies)
	}
}

func TestHandleNavigation_NoObservableVideo(t *testing.T) {
	env := &fakeEnv{} // identité vide : pas une page vidéo
	s := New(env, env, Hooks{})
	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s; want idle", s.State())
	}
}

func TestAcquire_PollsUntilProviderCatchesUp(t *testing.T) {
	env := &fakeEnv{}
	// l'adresse montre déjà V2 mais le fournisseur sert encore V1 (la
	// plateforme n'a pas fini de basculer)
	env.set("V2", model.VideoInfo{VideoID: "V1"}, nil)

	s := New(env, env, Hooks{})
	s.SetPolling(5*time.Millisecond, 50)

	go func() {
		time.Sleep(20 * time.Millisecond)
		env.set("V2", model.VideoInfo{VideoID: "V2", Title: "nouvelle"}, nil)
	}()

	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	if s.State() != StateReady || s.LastIdentity() != "V2" {
		t.Errorf("state = %s, identité = %s; want ready/V2", s.State(), s.LastIdentity())
	}
}

func TestAcquire_DegradedOnExhaustion(t *testing.T) {
	env := &fakeEnv{}
	env.set("V2", model.VideoInfo{VideoID: "V1", Title: "périmée"}, nil)

	var degraded *model.VideoInfo
	s := New(env, env, Hooks{
		OnDegraded: func(info model.VideoInfo) { degraded = &info },
	})
	s.SetPolling(time.Millisecond, 3)

	err := s.HandleNavigation(context.Background())
	if err == nil {
		t.Fatal("expected error on exhausted acquisition")
	}
	if s.State() != StateDegraded {
		t.Errorf("state = %s; want degraded", s.State())
	}
	// les données partielles sont servies, on ne bloque pas l'UI
	if degraded == nil || degraded.Title != "périmée" {
		t.Errorf("degraded info = %+v; want dernières infos observées", degraded)
	}
}

func TestAcquire_ProviderUnavailableThenReady(t *testing.T) {
	env := &fakeEnv{}
	env.set("V1", model.VideoInfo{}, fmt.Errorf("provider pas prêt"))

	s := New(env, env, Hooks{})
	s.SetPolling(5*time.Millisecond, 50)

	go func() {
		time.Sleep(20 * time.Millisecond)
		env.set("V1", model.VideoInfo{VideoID: "V1"}, nil)
	}()

	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s; want ready", s.State())
	}
}

func TestAcquire_NewerNavigationAbandonsOlder(t *testing.T) {
	env := &fakeEnv{}
	env.set("V2", model.VideoInfo{VideoID: "V1"}, nil) // V2 jamais confirmable

	resets := 0
	s := New(env, env, Hooks{OnReset: func() { resets++ }})
	s.SetPolling(5*time.Millisecond, 100)

	done := make(chan error, 1)
	go func() { done <- s.HandleNavigation(context.Background()) }()
	time.Sleep(15 * time.Millisecond)

	// pendant l'acquisition de V2, l'utilisateur navigue vers V3
	env.set("V3", model.VideoInfo{VideoID: "V3"}, nil)
	if err := s.HandleNavigation(context.Background()); err != nil {
		t.Fatalf("acquisition V3: %v", err)
	}

	// l'acquisition périmée de V2 doit rendre la main sans erreur ni écrasement
	if err := <-done; err != nil {
		t.Fatalf("acquisition abandonnée en erreur : %v", err)
	}
	if s.LastIdentity() != "V3" || s.State() != StateReady {
		t.Errorf("identité = %s, state = %s; want V3/ready", s.LastIdentity(), s.State())
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	env := &fakeEnv{}
	env.set("V1", model.VideoInfo{}, fmt.Errorf("jamais prêt"))

	s := New(env, env, Hooks{})
	s.SetPolling(10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := s.HandleNavigation(ctx); err != context.Canceled {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}
