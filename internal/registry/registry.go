// Package registry provides the immutable instruction and module registries.
//
// Both registries are loaded once at process start (from a script file or
// programmatic definitions), validated as a pair, and never mutated afterwards,
// so any number of concurrent turns may read them without synchronization. All
// cross-references between state, modules, and instructions are by identifier
// and resolved through these registries at call time.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatFlow/internal/models"
)

// AnswerSink receives answers captured by instruction fulfillment. The state
// store satisfies this interface.
type AnswerSink interface {
	AddAnswer(ctx context.Context, a models.Answer) error
}

// FulfilAction is the side effect an instruction performs when its matcher
// accepts a message, at most once per accepted turn.
type FulfilAction interface {
	Fulfil(ctx context.Context, userID, message string) error
}

// answerCapture is the default fulfillment action: it stores the user's reply
// as an Answer record.
type answerCapture struct {
	instructionID string
	sink          AnswerSink
}

func (a answerCapture) Fulfil(ctx context.Context, userID, message string) error {
	if a.sink == nil {
		slog.Debug("answerCapture skipped, no sink configured", "instructionID", a.instructionID, "userID", userID)
		return nil
	}
	return a.sink.AddAnswer(ctx, models.Answer{
		UserID:        userID,
		InstructionID: a.instructionID,
		Text:          message,
		CreatedAt:     time.Now(),
	})
}

// Instruction is a single expected exchange within a module: a matcher for the
// incoming message plus a fulfillment action that captures the answer.
type Instruction struct {
	ID       string
	ModuleID string
	Prompt   string // text presented to the user when this instruction is due

	matcher Matcher
	action  FulfilAction
}

// Matches reports whether the message satisfies this instruction's matcher.
func (i *Instruction) Matches(message string) bool {
	return i.matcher.Match(message)
}

// Fulfil runs the instruction's fulfillment action.
func (i *Instruction) Fulfil(ctx context.Context, userID, message string) error {
	if i.action == nil {
		return nil
	}
	return i.action.Fulfil(ctx, userID, message)
}

// Module is an ordered group of instructions representing one phase of a
// scripted dialogue. NextID names the successor module; empty means the module
// is terminal and the successor function returns the module's own id.
type Module struct {
	ID             string
	InstructionIDs []string
	NextID         string

	onComplete CompletionHook
}

// FireOnComplete runs the module's completion hook, if any.
func (m *Module) FireOnComplete(ctx context.Context, userID string) error {
	if m.onComplete == nil {
		return nil
	}
	return m.onComplete(ctx, userID)
}

// InstructionDef describes an instruction for registry construction.
type InstructionDef struct {
	ID       string
	ModuleID string
	Prompt   string
	Matcher  Matcher
	Action   FulfilAction // nil selects answer capture via the sink
}

// ModuleDef describes a module for registry construction.
type ModuleDef struct {
	ID             string
	InstructionIDs []string
	Next           string // empty = terminal
	OnComplete     CompletionHook
}

// InstructionRegistry is a read-only lookup from instruction id to descriptor.
type InstructionRegistry struct {
	byID map[string]*Instruction
}

// Get retrieves the instruction for the given id.
func (r *InstructionRegistry) Get(id string) (*Instruction, error) {
	instr, ok := r.byID[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "instruction", ID: id}
	}
	return instr, nil
}

// Len returns the number of registered instructions.
func (r *InstructionRegistry) Len() int {
	return len(r.byID)
}

// ModuleRegistry is a read-only lookup from module id to descriptor plus the
// successor functions the engine navigates with.
type ModuleRegistry struct {
	byID map[string]*Module
}

// Get retrieves the module for the given id.
func (r *ModuleRegistry) Get(id string) (*Module, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "module", ID: id}
	}
	return m, nil
}

// SuccessorInstruction returns the instruction immediately following the given
// one in the module's ordered sequence. The second return is false when the
// instruction is the last in the module. An instruction absent from the
// module's sequence indicates a corrupted cursor and returns a NotFoundError.
func (r *ModuleRegistry) SuccessorInstruction(moduleID, instructionID string) (string, bool, error) {
	m, err := r.Get(moduleID)
	if err != nil {
		return "", false, err
	}
	for idx, id := range m.InstructionIDs {
		if id == instructionID {
			if idx+1 < len(m.InstructionIDs) {
				return m.InstructionIDs[idx+1], true, nil
			}
			return "", false, nil
		}
	}
	return "", false, &models.NotFoundError{Kind: "instruction", ID: instructionID}
}

// NextModuleID returns the successor module id. Terminal modules return their
// own id, so callers can detect "no transition" by comparing against the input.
func (r *ModuleRegistry) NextModuleID(moduleID string) (string, error) {
	m, err := r.Get(moduleID)
	if err != nil {
		return "", err
	}
	if m.NextID == "" {
		return m.ID, nil
	}
	return m.NextID, nil
}

// FirstInstructionID returns the first instruction of the module's sequence.
func (r *ModuleRegistry) FirstInstructionID(moduleID string) (string, error) {
	m, err := r.Get(moduleID)
	if err != nil {
		return "", err
	}
	return m.InstructionIDs[0], nil
}

// Build constructs the instruction and module registries from definitions and
// validates the pair: every module has a non-empty sequence, every instruction
// belongs to exactly one module and appears exactly once in that module's
// sequence, and every module successor reference resolves.
//
// Instructions with a nil Action get the default answer-capture action wired
// to sink; a nil sink makes capture a no-op.
func Build(moduleDefs []ModuleDef, instructionDefs []InstructionDef, sink AnswerSink) (*InstructionRegistry, *ModuleRegistry, error) {
	slog.Debug("Building registries", "modules", len(moduleDefs), "instructions", len(instructionDefs))

	modules := make(map[string]*Module, len(moduleDefs))
	owner := make(map[string]string) // instruction id -> module id
	for _, md := range moduleDefs {
		if md.ID == "" {
			return nil, nil, fmt.Errorf("module with empty id")
		}
		if _, dup := modules[md.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate module id %q", md.ID)
		}
		if len(md.InstructionIDs) == 0 {
			return nil, nil, fmt.Errorf("module %q has an empty instruction sequence", md.ID)
		}
		for _, iid := range md.InstructionIDs {
			if prev, claimed := owner[iid]; claimed {
				return nil, nil, fmt.Errorf("instruction %q appears in modules %q and %q", iid, prev, md.ID)
			}
			owner[iid] = md.ID
		}
		modules[md.ID] = &Module{
			ID:             md.ID,
			InstructionIDs: md.InstructionIDs,
			NextID:         md.Next,
			onComplete:     md.OnComplete,
		}
	}

	for _, m := range modules {
		if m.NextID != "" {
			if _, ok := modules[m.NextID]; !ok {
				return nil, nil, fmt.Errorf("module %q references unknown successor %q", m.ID, m.NextID)
			}
		}
	}

	instructions := make(map[string]*Instruction, len(instructionDefs))
	for _, id := range instructionDefs {
		if id.ID == "" {
			return nil, nil, fmt.Errorf("instruction with empty id")
		}
		if _, dup := instructions[id.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate instruction id %q", id.ID)
		}
		moduleID, ok := owner[id.ID]
		if !ok {
			return nil, nil, fmt.Errorf("instruction %q does not belong to any module", id.ID)
		}
		if id.ModuleID != "" && id.ModuleID != moduleID {
			return nil, nil, fmt.Errorf("instruction %q declares module %q but is sequenced in %q", id.ID, id.ModuleID, moduleID)
		}
		matcher := id.Matcher
		if matcher == nil {
			matcher = anyMatcher{}
		}
		action := id.Action
		if action == nil {
			action = answerCapture{instructionID: id.ID, sink: sink}
		}
		instructions[id.ID] = &Instruction{
			ID:       id.ID,
			ModuleID: moduleID,
			Prompt:   id.Prompt,
			matcher:  matcher,
			action:   action,
		}
	}

	// Every sequenced instruction must have a definition.
	for iid, mid := range owner {
		if _, ok := instructions[iid]; !ok {
			return nil, nil, fmt.Errorf("module %q sequences undefined instruction %q", mid, iid)
		}
	}

	slog.Debug("Registries built", "modules", len(modules), "instructions", len(instructions))
	return &InstructionRegistry{byID: instructions}, &ModuleRegistry{byID: modules}, nil
}
