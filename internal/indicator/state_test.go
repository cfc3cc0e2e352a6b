package indicator

import (
	"math"
	"math/rand"
	"testing"
)

func TestSMA_AbsentUntilFull(t *testing.T) {
	s := NewSMA(3)
	if m := s.Update(10); m.Ready {
		t.Errorf("expected absent mean after 1 close, got %v", m)
	}
	if m := s.Update(20); m.Ready {
		t.Errorf("expected absent mean after 2 closes, got %v", m)
	}
	m := s.Update(30)
	if !m.Ready || math.Abs(m.Value-20) > 1e-9 {
		t.Errorf("expected ready mean 20, got %v", m)
	}
}

func TestSMA_WindowNeverExceedsPeriod(t *testing.T) {
	s := NewSMA(5)
	for i := 0; i < 50; i++ {
		s.Update(float64(i))
		if s.Len() > 5 {
			t.Fatalf("window grew to %d", s.Len())
		}
	}
	// last five closes 45..49
	if v := s.Value().Value; math.Abs(v-47) > 1e-9 {
		t.Errorf("expected 47, got %.4f", v)
	}
}

func TestTracker_CrossoverScenario(t *testing.T) {
	tr := NewTracker(2, 3)
	closes := []float64{10, 10, 10, 12, 8}

	var snaps []Snapshot
	for _, c := range closes {
		snaps = append(snaps, tr.Update("EURUSD", c))
	}

	if snaps[0].Ready() || snaps[1].Ready() {
		t.Fatal("long mean must be absent before the third close")
	}
	if !snaps[2].Ready() {
		t.Fatal("both means should be ready at index 2")
	}
	if snaps[2].PrevReady() {
		t.Error("previous long mean should be absent at index 2")
	}

	s3 := snaps[3]
	if !s3.PrevReady() {
		t.Fatal("previous pair should be ready at index 3")
	}
	if math.Abs(s3.Short.Value-11) > 1e-9 {
		t.Errorf("expected short 11, got %.4f", s3.Short.Value)
	}
	if math.Abs(s3.Long.Value-32.0/3) > 1e-9 {
		t.Errorf("expected long 10.667, got %.4f", s3.Long.Value)
	}
	if s3.PrevShort.Value != 10 || s3.PrevLong.Value != 10 {
		t.Errorf("expected previous pair (10, 10), got (%v, %v)", s3.PrevShort, s3.PrevLong)
	}

	// index 4: short (12,8)=10, long (10,12,8)=10
	s4 := snaps[4]
	if s4.Short.Value != 10 || s4.Long.Value != 10 {
		t.Errorf("expected (10, 10) at index 4, got (%v, %v)", s4.Short, s4.Long)
	}
}

func TestTracker_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	closes := make([]float64, 500)
	for i := range closes {
		closes[i] = 1.1 + rng.Float64()/100
	}

	a, b := NewTracker(5, 20), NewTracker(5, 20)
	for i, c := range closes {
		sa := a.Update("GBPUSD", c)
		sb := b.Update("GBPUSD", c)
		if sa != sb {
			t.Fatalf("bar %d: snapshots diverged: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestTracker_SymbolsIndependent(t *testing.T) {
	tr := NewTracker(2, 3)
	for i := 0; i < 3; i++ {
		tr.Update("AAA", 100)
	}
	snap := tr.Update("BBB", 1)
	if snap.Short.Ready || snap.Bars != 1 {
		t.Errorf("BBB should start fresh, got %+v", snap)
	}
	a, ok := tr.Get("AAA")
	if !ok || !a.Ready() || a.Long.Value != 100 {
		t.Errorf("AAA state changed by BBB update: %+v", a)
	}
}

func TestTracker_Warmup(t *testing.T) {
	tr := NewTracker(2, 3)
	snap := tr.Warmup("USDJPY", []float64{10, 10, 10})
	if !snap.Ready() || snap.Bars != 3 {
		t.Fatalf("expected ready state after warmup, got %+v", snap)
	}
	next := tr.Update("USDJPY", 12)
	if !next.PrevReady() || next.Short.Value != 11 {
		t.Errorf("warmup state not carried into live updates: %+v", next)
	}

	tr.Reset("USDJPY")
	if _, ok := tr.Get("USDJPY"); ok {
		t.Error("expected state dropped after reset")
	}
}
