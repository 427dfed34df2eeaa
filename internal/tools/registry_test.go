package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRegistryHasBuiltins(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tool, err := registry.Get("think")
	if err != nil {
		t.Fatalf("Get(think): %v", err)
	}
	if tool.Name() != "think" {
		t.Errorf("tool name = %q, want think", tool.Name())
	}
}

func TestRegistryGetUnknownWrapsErrNotFound(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	_, err = registry.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	registry := newTestRegistry(t, &fakeTool{name: "dup"})
	if err := registry.Register(&fakeTool{name: "dup"}); err == nil {
		t.Error("duplicate registration succeeded")
	}
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	bad := &fakeTool{name: "broken", schema: json.RawMessage(`{"type": 42}`)}
	if err := registry.Register(bad); err == nil {
		t.Error("registration with invalid schema succeeded")
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	registry := newTestRegistry(t, &fakeTool{name: "zeta"}, &fakeTool{name: "alpha"})
	defs := registry.Definitions("openai")
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	want := []string{"alpha", "think", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("definitions = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("definitions = %v, want %v", names, want)
		}
	}
}

func TestThinkToolExecute(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tool, err := registry.Get("think")
	if err != nil {
		t.Fatalf("Get(think): %v", err)
	}
	if tool.ConfirmationDetails(json.RawMessage(`{"thought":"x"}`)) != nil {
		t.Error("think tool should not require confirmation")
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"thought":"check the loop bound"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content == "" {
		t.Error("think result has no content")
	}
	if result.Metadata["thought"] != "check the loop bound" {
		t.Errorf("metadata thought = %v", result.Metadata["thought"])
	}

	if err := registry.ValidateArgs("think", json.RawMessage(`{}`)); err == nil {
		t.Error("ValidateArgs accepted arguments missing the required thought")
	}
}
