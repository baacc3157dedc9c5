package main

import (
	"context"
	"fmt"
	"log"

	"github.com/BTreeMap/ChatFlow/internal/engine"
	"github.com/BTreeMap/ChatFlow/internal/registry"
	"github.com/BTreeMap/ChatFlow/internal/store"
)

// Minimal demonstration of the dialogue engine with an in-memory store and a
// two-module script. The real service lives in cmd/ChatFlow.
func main() {
	st := store.NewInMemoryStore()

	emailMatcher, err := registry.NewMatcher(registry.MatcherKindEmail, "", nil)
	if err != nil {
		log.Fatalf("Failed to build matcher: %v", err)
	}

	instrReg, modReg, err := registry.Build(
		[]registry.ModuleDef{
			{ID: "onboarding", InstructionIDs: []string{"ask_name", "ask_email"}, Next: "survey"},
			{ID: "survey", InstructionIDs: []string{"q1"}},
		},
		[]registry.InstructionDef{
			{ID: "ask_name", Prompt: "What is your name?"},
			{ID: "ask_email", Prompt: "What is your email?", Matcher: emailMatcher},
			{ID: "q1", Prompt: "How did you hear about us?"},
		},
		st,
	)
	if err != nil {
		log.Fatalf("Failed to build registries: %v", err)
	}

	eng := engine.New(instrReg, modReg, nil, st, engine.Config{
		EntryModuleID:        "onboarding",
		EntryInstructionID:   "ask_name",
		DefaultInstructionID: "fallback_unrecognized",
	})

	ctx := context.Background()
	for _, msg := range []string{"Alice", "alice@example.com", "a friend"} {
		next, err := eng.ProcessTurn(ctx, msg, "demo-user")
		if err != nil {
			log.Fatalf("Turn failed: %v", err)
		}
		fmt.Printf("%-25q -> next instruction %q\n", msg, next)
	}
}
