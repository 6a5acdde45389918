package badge

import "testing"

func TestLogIndicatorTransitions(t *testing.T) {
	ind := NewLogIndicator()

	if got := ind.Last(7); got != StatusNone {
		t.Fatalf("statut initial = %q, attendu none", got)
	}

	ind.Set(7, StatusPending)
	if got := ind.Last(7); got != StatusPending {
		t.Fatalf("après pending : %q", got)
	}

	ind.Set(7, StatusReady)
	ind.Set(7, StatusReady) // répété, sans effet
	if got := ind.Last(7); got != StatusReady {
		t.Fatalf("après ready : %q", got)
	}

	// Les onglets sont indépendants.
	if got := ind.Last(8); got != StatusNone {
		t.Fatalf("onglet vierge = %q, attendu none", got)
	}

	ind.Clear(7)
	if got := ind.Last(7); got != StatusNone {
		t.Fatalf("après clear : %q", got)
	}
}
