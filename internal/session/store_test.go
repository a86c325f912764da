package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore()

	if _, ok := s.Get("alice"); ok {
		t.Fatal("Get() on empty store returned a session")
	}

	st := s.Create("alice", "https://relay/v1")
	if st.Step != AwaitingChoice {
		t.Errorf("Step = %v, want %v", st.Step, AwaitingChoice)
	}
	if st.APIURL != "https://relay/v1" {
		t.Errorf("APIURL = %q", st.APIURL)
	}
	if st.ID == "" {
		t.Error("ID should be set")
	}

	st.Step = AwaitingAPIKey
	if err := s.Update(st); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, ok := s.Get("alice")
	if !ok || got.Step != AwaitingAPIKey {
		t.Errorf("Get() = %+v, %v", got, ok)
	}

	if !s.Delete("alice") {
		t.Error("Delete() = false, want true")
	}
	if s.Delete("alice") {
		t.Error("second Delete() = true, want false")
	}
	if err := s.Update(st); err == nil {
		t.Error("Update() of deleted session should fail")
	}
}

func TestStore_CreateOverwrites(t *testing.T) {
	s := NewStore()

	first := s.Create("bob", "u")
	first.Step = AwaitingModelName
	first.APIKey = "sk-1"
	if err := s.Update(first); err != nil {
		t.Fatal(err)
	}

	second := s.Create("bob", "u")
	if second.ID == first.ID {
		t.Error("re-trigger should start a new dialogue")
	}
	got, _ := s.Get("bob")
	if got.Step != AwaitingChoice || got.APIKey != "" {
		t.Errorf("Get() = %+v, want fresh session", got)
	}

	// A stale dialogue can neither be written back nor delete the new one.
	if err := s.Update(first); err == nil {
		t.Error("Update() with a replaced session should fail")
	}
	if s.DeleteIf("bob", first.ID) {
		t.Error("DeleteIf() removed the newer session")
	}
	if !s.DeleteIf("bob", second.ID) {
		t.Error("DeleteIf() = false for current session")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	st := s.Create("carol", "u")
	st.APIKey = "sk-mutated"

	got, _ := s.Get("carol")
	if got.APIKey != "" {
		t.Errorf("store shares state with caller: APIKey = %q", got.APIKey)
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			st := s.Create(user, "u")
			st.Step = AwaitingAPIKey
			if err := s.Update(st); err != nil {
				t.Errorf("Update(%s) error = %v", user, err)
			}
			if i%2 == 0 {
				s.Delete(user)
			}
		}(i)
	}
	wg.Wait()

	if got := s.Len(); got != 25 {
		t.Errorf("Len() = %d, want 25", got)
	}
}

func TestStep_String(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{AwaitingChoice, "awaiting_choice"},
		{AwaitingAPIKey, "awaiting_api_key"},
		{AwaitingModelName, "awaiting_model_name"},
		{AwaitingModelNameOnly, "awaiting_model_name_only"},
		{Step(9), "step(9)"},
	}
	for _, tt := range tests {
		if got := tt.step.String(); got != tt.want {
			t.Errorf("Step(%d).String() = %q, want %q", int(tt.step), got, tt.want)
		}
	}
}
