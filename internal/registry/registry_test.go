package registry

import "testing"

func TestGetDefaultsToFirstInserted(t *testing.T) {
	r := New()
	r.Register("llm", "anthropic", "anthropic-provider")
	r.Register("llm", "openai", "openai-provider")

	got, err := r.Get("llm", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "anthropic-provider" {
		t.Fatalf("got %v, want first-inserted anthropic-provider", got)
	}
}

func TestGetExplicitDefaultOverridesFirst(t *testing.T) {
	r := New()
	r.Register("llm", "anthropic", "anthropic-provider")
	r.Register("llm", "openai", "openai-provider")
	r.SetDefault("llm", "openai")

	got, err := r.Get("llm", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "openai-provider" {
		t.Fatalf("got %v, want explicit default openai-provider", got)
	}
}

func TestGetUnknownCategoryFails(t *testing.T) {
	r := New()
	if _, err := r.Get("llm", ""); err == nil {
		t.Fatal("expected ErrProviderNotFound for empty category")
	}
}

func TestGetUnknownNameFails(t *testing.T) {
	r := New()
	r.Register("llm", "anthropic", "x")
	if _, err := r.Get("llm", "missing"); err == nil {
		t.Fatal("expected ErrProviderNotFound for unknown name")
	}
}

func TestReRegisterReplacesWithoutReordering(t *testing.T) {
	r := New()
	r.Register("llm", "a", 1)
	r.Register("llm", "b", 2)
	r.Register("llm", "a", 99)

	names := r.Names("llm")
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v, want [a b] (order preserved)", names)
	}
	got, _ := r.Get("llm", "a")
	if got != 99 {
		t.Fatalf("got %v, want replaced value 99", got)
	}
}
