package session

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewStore_SessionID(t *testing.T) {
	a := NewStore()
	b := NewStore()

	if a.SessionID() == "" {
		t.Fatal("session id should never be empty")
	}
	if !strings.HasPrefix(a.SessionID(), "session-") {
		t.Errorf("session id %q should start with session-", a.SessionID())
	}
	if a.SessionID() == b.SessionID() {
		t.Error("two stores should not share a session id")
	}
}

func TestStore_RecordDetection_CollapsesRepeats(t *testing.T) {
	s := NewStore()

	for _, sign := range []string{"A", "A", "B", "B", "B", "C"} {
		s.RecordDetection(Detection{Sign: sign, Confidence: 0.9})
	}

	want := []string{"A", "B", "C"}
	if got := s.AccumulatedSigns(); !reflect.DeepEqual(got, want) {
		t.Errorf("AccumulatedSigns() = %v, want %v", got, want)
	}
	if got := s.Snapshot().DetectedSigns; !reflect.DeepEqual(got, want) {
		t.Errorf("DetectedSigns = %v, want %v", got, want)
	}
}

func TestStore_RecordDetection_NoAdjacentDuplicates(t *testing.T) {
	inputs := [][]string{
		{},
		{"A"},
		{"A", "A", "A"},
		{"A", "B", "A", "B"},
		{"H", "H", "E", "L", "L", "L", "O", "O"},
		{"1", "2", "2", "3", "3", "3", "2"},
	}

	for _, in := range inputs {
		s := NewStore()
		for _, sign := range in {
			s.RecordDetection(Detection{Sign: sign})
		}
		got := s.AccumulatedSigns()
		for i := 1; i < len(got); i++ {
			if got[i] == got[i-1] {
				t.Errorf("input %v: adjacent duplicate %q at %d in %v", in, got[i], i, got)
			}
		}
	}
}

func TestStore_RecordDetection_LatestConfidence(t *testing.T) {
	s := NewStore()

	if s.RecordDetection(Detection{Sign: ""}) {
		t.Error("empty sign should not be appended")
	}
	if !s.RecordDetection(Detection{Sign: "A", Confidence: 0.8}) {
		t.Error("first sign should be appended")
	}
	if s.RecordDetection(Detection{Sign: "A", Confidence: 0.6}) {
		t.Error("repeated sign should not be appended")
	}

	snap := s.Snapshot()
	if snap.LastSign != "A" || snap.Confidence != 0.6 {
		t.Errorf("last = (%q, %v), want (A, 0.6)", snap.LastSign, snap.Confidence)
	}
}

func TestStore_RecordDetection_DropsStale(t *testing.T) {
	s := NewStore()
	base := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return base }
	oldID := s.SessionID()
	s.Clear()

	tests := []struct {
		name string
		d    Detection
		want bool
	}{
		{name: "frame before clear", d: Detection{Sign: "A", FrameTimestamp: base.UnixMilli() - 50}, want: false},
		{name: "tagged with old session", d: Detection{Sign: "B", SessionID: oldID}, want: false},
		{name: "untimed and untagged", d: Detection{Sign: "C"}, want: true},
		{name: "frame after clear", d: Detection{Sign: "D", FrameTimestamp: base.UnixMilli() + 100}, want: true},
		{name: "tagged with current session", d: Detection{Sign: "E", SessionID: s.SessionID()}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.RecordDetection(tt.d); got != tt.want {
				t.Errorf("RecordDetection(%+v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}

	if got, want := s.AccumulatedSigns(), []string{"C", "D", "E"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AccumulatedSigns() = %v, want %v", got, want)
	}
}

func TestStore_CommitTranslation(t *testing.T) {
	s := NewStore()
	s.RecordDetection(Detection{Sign: "H"})
	s.RecordDetection(Detection{Sign: "I"})

	signs := s.AccumulatedSigns()
	if err := s.CommitTranslation(s.SessionID(), signs, "Hi", 42); err != nil {
		t.Fatalf("CommitTranslation() error = %v", err)
	}

	if got := s.CurrentSentence(); got != "Hi" {
		t.Errorf("CurrentSentence() = %q, want Hi", got)
	}
	if got := s.AccumulatedSigns(); len(got) != 0 {
		t.Errorf("AccumulatedSigns() = %v, want empty", got)
	}

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("len(History()) = %d, want 1", len(history))
	}
	want := HistoryEntry{Signs: []string{"H", "I"}, Translation: "Hi", Timestamp: 42}
	if !reflect.DeepEqual(history[0], want) {
		t.Errorf("History()[0] = %+v, want %+v", history[0], want)
	}

	// The entry is a copy: mutating the caller's slice changes nothing.
	signs[0] = "X"
	if s.History()[0].Signs[0] != "H" {
		t.Error("history entry should not alias the committed slice")
	}
}

func TestStore_CommitTranslation_EmptiesBuffer(t *testing.T) {
	s := NewStore()
	s.RecordDetection(Detection{Sign: "H"})
	s.RecordDetection(Detection{Sign: "I"})
	snapshot := s.AccumulatedSigns()

	s.RecordDetection(Detection{Sign: "Y"})

	if err := s.CommitTranslation(s.SessionID(), snapshot, "Hi", 1); err != nil {
		t.Fatalf("CommitTranslation() error = %v", err)
	}
	if got := s.AccumulatedSigns(); len(got) != 0 {
		t.Errorf("AccumulatedSigns() = %v, want empty", got)
	}
	if got := s.History()[0].Signs; !reflect.DeepEqual(got, []string{"H", "I"}) {
		t.Errorf("History()[0].Signs = %v, want [H I]", got)
	}
}

func TestStore_CommitTranslation_SessionChanged(t *testing.T) {
	s := NewStore()
	s.RecordDetection(Detection{Sign: "A"})
	oldID := s.SessionID()
	signs := s.AccumulatedSigns()

	s.Clear()
	s.RecordDetection(Detection{Sign: "B"})

	err := s.CommitTranslation(oldID, signs, "a", 1)
	if !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("CommitTranslation() error = %v, want ErrSessionChanged", err)
	}
	if len(s.History()) != 0 {
		t.Error("a stale translation must not reach history")
	}
	if got, want := s.AccumulatedSigns(), []string{"B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AccumulatedSigns() = %v, want %v", got, want)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.StartTranslation()
	s.RecordDetection(Detection{Sign: "H", Confidence: 0.9})
	s.RecordDetection(Detection{Sign: "I", Confidence: 0.9})
	if err := s.CommitTranslation(s.SessionID(), s.AccumulatedSigns(), "Hi", 1); err != nil {
		t.Fatalf("CommitTranslation() error = %v", err)
	}
	s.RecordDetection(Detection{Sign: "Z", Confidence: 0.7})

	before := s.SessionID()
	historyBefore := s.History()

	after := s.Clear()

	if after == "" || after == before {
		t.Errorf("Clear() id = %q, want non-empty and different from %q", after, before)
	}
	if s.SessionID() != after {
		t.Errorf("SessionID() = %q, want %q", s.SessionID(), after)
	}

	snap := s.Snapshot()
	if len(snap.AccumulatedSigns) != 0 || len(snap.DetectedSigns) != 0 {
		t.Errorf("signs not cleared: %+v", snap)
	}
	if snap.CurrentSentence != "" || snap.LastSign != "" || snap.Confidence != 0 {
		t.Errorf("display state not cleared: %+v", snap)
	}
	if !reflect.DeepEqual(snap.History, historyBefore) {
		t.Errorf("History = %+v, want unchanged %+v", snap.History, historyBefore)
	}
	if !snap.Translating {
		t.Error("Clear() should not change the translating flag")
	}
}

func TestStore_TranslatingFlag(t *testing.T) {
	s := NewStore()

	if s.IsTranslating() {
		t.Fatal("new store should not be translating")
	}
	s.StartTranslation()
	if !s.IsTranslating() {
		t.Error("IsTranslating() should be true after StartTranslation")
	}
	s.StopTranslation()
	if s.IsTranslating() {
		t.Error("IsTranslating() should be false after StopTranslation")
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore()

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})

	s.StartTranslation()
	s.RecordDetection(Detection{Sign: "A"})
	unsubscribe()
	s.RecordDetection(Detection{Sign: "B"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("received %d snapshots, want 2", len(got))
	}
	if !got[0].Translating {
		t.Error("first snapshot should reflect StartTranslation")
	}
	if !reflect.DeepEqual(got[1].AccumulatedSigns, []string{"A"}) {
		t.Errorf("second snapshot signs = %v, want [A]", got[1].AccumulatedSigns)
	}
}

func TestStore_ConcurrentDetections(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordDetection(Detection{Sign: string(rune('A' + (i+j)%3))})
			}
		}(i)
	}
	wg.Wait()

	got := s.AccumulatedSigns()
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("adjacent duplicate at %d", i)
		}
	}
}
