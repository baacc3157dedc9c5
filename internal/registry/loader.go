// Package registry provides the YAML script loader.
//
// A script file declares the dialogue graph (modules, instructions, intents)
// plus the entry and fallback policy. It is read once at process start; a
// reload means building fresh registries and swapping them atomically, never
// editing loaded ones in place.
package registry

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Script is the top-level script file structure.
type Script struct {
	EntryModule        string         `yaml:"entry_module"`
	EntryInstruction   string         `yaml:"entry_instruction,omitempty"` // defaults to the entry module's first instruction
	DefaultInstruction string         `yaml:"default_instruction"`
	Modules            []ScriptModule `yaml:"modules"`
	Intents            []ScriptIntent `yaml:"intents,omitempty"`
}

// ScriptModule declares one module and its ordered instruction sequence.
type ScriptModule struct {
	ID           string              `yaml:"id"`
	Next         string              `yaml:"next,omitempty"`        // empty = terminal module
	OnComplete   string              `yaml:"on_complete,omitempty"` // hook kind, empty = none
	Instructions []ScriptInstruction `yaml:"instructions"`
}

// ScriptInstruction declares one instruction within a module.
type ScriptInstruction struct {
	ID       string   `yaml:"id"`
	Prompt   string   `yaml:"prompt,omitempty"`
	Match    string   `yaml:"match,omitempty"` // any|keyword|regex|email, defaults to any
	Pattern  string   `yaml:"pattern,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// ScriptIntent declares a free-form-text intent consulted on non-match.
type ScriptIntent struct {
	ID          string   `yaml:"id"`
	Keywords    []string `yaml:"keywords"`
	Instruction string   `yaml:"instruction"`
	Action      string   `yaml:"action,omitempty"` // none|restart
}

// LoadScript reads and parses a script file. Structural validation happens in
// BuildFromScript; this only rejects unreadable or syntactically invalid YAML.
func LoadScript(path string) (*Script, error) {
	slog.Debug("LoadScript reading script file", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("LoadScript read failed", "error", err, "path", path)
		return nil, fmt.Errorf("failed to read script file %s: %w", path, err)
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		slog.Error("LoadScript parse failed", "error", err, "path", path)
		return nil, fmt.Errorf("failed to parse script file %s: %w", path, err)
	}

	slog.Info("Script loaded", "path", path, "modules", len(script.Modules), "intents", len(script.Intents))
	return &script, nil
}

// EntryInstructionID resolves the instruction a brand-new user starts at: the
// explicit entry_instruction if set, otherwise the first instruction of the
// entry module.
func (s *Script) EntryInstructionID() string {
	if s.EntryInstruction != "" {
		return s.EntryInstruction
	}
	for _, m := range s.Modules {
		if m.ID == s.EntryModule && len(m.Instructions) > 0 {
			return m.Instructions[0].ID
		}
	}
	return ""
}

// BuildFromScript constructs the instruction and module registries from a
// parsed script. Completion hooks are resolved through the hook registry;
// answer capture is wired to the sink.
func BuildFromScript(script *Script, hooks *HookRegistry, sink AnswerSink) (*InstructionRegistry, *ModuleRegistry, error) {
	if script.EntryModule == "" {
		return nil, nil, fmt.Errorf("script missing entry_module")
	}
	if script.DefaultInstruction == "" {
		return nil, nil, fmt.Errorf("script missing default_instruction")
	}
	if hooks == nil {
		hooks = NewHookRegistry()
	}

	var moduleDefs []ModuleDef
	var instructionDefs []InstructionDef
	for _, sm := range script.Modules {
		var instructionIDs []string
		for _, si := range sm.Instructions {
			matcher, err := NewMatcher(si.Match, si.Pattern, si.Keywords)
			if err != nil {
				return nil, nil, fmt.Errorf("instruction %q: %w", si.ID, err)
			}
			instructionIDs = append(instructionIDs, si.ID)
			instructionDefs = append(instructionDefs, InstructionDef{
				ID:      si.ID,
				Prompt:  si.Prompt,
				Matcher: matcher,
			})
		}

		hook, err := hooks.CreateHook(sm.OnComplete, map[string]string{"module": sm.ID})
		if err != nil {
			return nil, nil, fmt.Errorf("module %q: %w", sm.ID, err)
		}
		moduleDefs = append(moduleDefs, ModuleDef{
			ID:             sm.ID,
			InstructionIDs: instructionIDs,
			Next:           sm.Next,
			OnComplete:     hook,
		})
	}

	instrReg, modReg, err := Build(moduleDefs, instructionDefs, sink)
	if err != nil {
		return nil, nil, err
	}

	if _, err := modReg.Get(script.EntryModule); err != nil {
		return nil, nil, fmt.Errorf("entry_module %q is not a defined module", script.EntryModule)
	}
	if entry := script.EntryInstructionID(); entry != "" {
		if instr, err := instrReg.Get(entry); err != nil {
			return nil, nil, fmt.Errorf("entry instruction %q is not a defined instruction", entry)
		} else if instr.ModuleID != script.EntryModule {
			return nil, nil, fmt.Errorf("entry instruction %q does not belong to entry module %q", entry, script.EntryModule)
		}
	} else {
		return nil, nil, fmt.Errorf("entry module %q has no entry instruction", script.EntryModule)
	}

	return instrReg, modReg, nil
}
