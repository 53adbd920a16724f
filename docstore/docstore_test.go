package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

func home() map[string]any {
	return map[string]any{
		"lights": map[string]any{
			"living_room": map[string]any{"power": true, "brightness": 80},
			"porch":       map[string]any{"power": false},
		},
		"thermostat": map[string]any{"target_temperature": 20},
	}
}

func TestLookupAndAssign(t *testing.T) {
	doc := home()

	v, ok := Lookup(doc, "lights.living_room.brightness")
	if !ok || v != 80 {
		t.Errorf("Expected 80, got %v (%v)", v, ok)
	}
	if _, ok := Lookup(doc, "lights.kitchen.power"); ok {
		t.Errorf("Expected missing path")
	}
	if _, ok := Lookup(doc, "lights.porch.power.extra"); ok {
		t.Errorf("Expected lookup through a leaf to fail")
	}

	prev, ok := Assign(doc, "thermostat.target_temperature", 22)
	if !ok || prev != 20 {
		t.Errorf("Expected previous 20, got %v (%v)", prev, ok)
	}
	if _, ok := Assign(doc, "thermostat.mode", "heat"); ok {
		t.Errorf("Assign must not create new keys")
	}
}

func TestPaths(t *testing.T) {
	want := []string{
		"lights.living_room.brightness",
		"lights.living_room.power",
		"lights.porch.power",
		"thermostat.target_temperature",
	}
	if diff := cmp.Diff(want, Paths(home())); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put("home", home()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	t.Run("get field", func(t *testing.T) {
		v, err := s.GetField(ctx, "home", "lights.living_room.brightness")
		if err != nil {
			t.Fatalf("GetField failed: %v", err)
		}
		if v != float64(80) {
			t.Errorf("Expected 80, got %v", v)
		}
	})

	t.Run("missing field and document", func(t *testing.T) {
		if _, err := s.GetField(ctx, "home", "garage.door"); !errors.Is(err, errorspkg.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetField(ctx, "car", "x"); !errors.Is(err, errorspkg.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update then get", func(t *testing.T) {
		ack, err := s.UpdateField(ctx, "home", "lights.porch.power", true)
		if err != nil {
			t.Fatalf("UpdateField failed: %v", err)
		}
		if !ack.Success || ack.Previous != false {
			t.Errorf("Unexpected ack %+v", ack)
		}
		v, _ := s.GetField(ctx, "home", "lights.porch.power")
		if v != true {
			t.Errorf("Expected updated value true, got %v", v)
		}
	})

	t.Run("update missing reports in ack", func(t *testing.T) {
		ack, err := s.UpdateField(ctx, "home", "garage.door", "open")
		if err != nil {
			t.Fatalf("UpdateField returned error: %v", err)
		}
		if ack.Success || ack.Error == "" {
			t.Errorf("Expected unsuccessful ack, got %+v", ack)
		}
		ack, err = s.UpdateField(ctx, "car", "x", 1)
		if err != nil || ack.Success {
			t.Errorf("Expected unsuccessful ack for missing document, got %+v, %v", ack, err)
		}
	})

	t.Run("get fields skips missing", func(t *testing.T) {
		got, err := s.GetFields(ctx, "home", []string{"thermostat.target_temperature", "garage.door"})
		if err != nil {
			t.Fatalf("GetFields failed: %v", err)
		}
		if diff := cmp.Diff(map[string]any{"thermostat.target_temperature": float64(20)}, got); diff != "" {
			t.Errorf("GetFields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("document is copied", func(t *testing.T) {
		doc, err := s.Document("home")
		if err != nil {
			t.Fatalf("Document failed: %v", err)
		}
		Assign(doc, "thermostat.target_temperature", 99)
		v, _ := s.GetField(ctx, "home", "thermostat.target_temperature")
		if v == 99 {
			t.Errorf("Mutating a returned document leaked into the store")
		}
	})

	t.Run("field values are copied", func(t *testing.T) {
		v, err := s.GetField(ctx, "home", "lights.living_room")
		if err != nil {
			t.Fatalf("GetField failed: %v", err)
		}
		v.(map[string]any)["power"] = "tampered"

		fields, _ := s.GetFields(ctx, "home", []string{"lights.living_room"})
		fields["lights.living_room"].(map[string]any)["brightness"] = "tampered"

		mode := map[string]any{"name": "away"}
		if ack, err := s.UpdateField(ctx, "home", "lights.porch", mode); err != nil || !ack.Success {
			t.Fatalf("UpdateField failed: %+v %v", ack, err)
		}
		mode["name"] = "tampered"

		doc, _ := s.Document("home")
		want := map[string]any{"power": true, "brightness": float64(80)}
		if diff := cmp.Diff(want, doc["lights"].(map[string]any)["living_room"]); diff != "" {
			t.Errorf("Returned values aliased the store (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(map[string]any{"name": "away"}, doc["lights"].(map[string]any)["porch"]); diff != "" {
			t.Errorf("Updated value aliased the caller (-want +got):\n%s", diff)
		}
	})
}
