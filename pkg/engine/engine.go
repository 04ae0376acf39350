// Package engine evaluates the processing-logic script. The script is a
// small Lisp program run in a sandboxed zygomys environment; it describes
// the reconstruction strategy the pipeline uses, and editing it on disk
// changes how meshes are rebuilt without restarting the server.
package engine

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/chazu/isoview/pkg/pipeline"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error, a bad builtin argument or an invalid strategy.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ScriptError bundles the evaluation errors of a script so they can travel
// as a single error value.
type ScriptError struct {
	Path   string
	Errors []EvalError
}

func (e *ScriptError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ee := range e.Errors {
		msgs[i] = ee.Error()
	}
	return fmt.Sprintf("%s: %s", e.Path, strings.Join(msgs, "; "))
}

// Engine wraps the zygomys interpreter. It is safe for concurrent use; each
// call to Evaluate creates a fresh sandboxed environment for determinism.
type Engine struct {
	mu         sync.Mutex
	generation uint64
}

// NewEngine creates a new Engine instance.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs source and returns the strategy it describes.
//
// Return semantics:
//   - On success: returns strategy + nil errors + nil error
//   - On parse/eval failure: returns nil strategy + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
//
// A script that never calls reconstruct yields pipeline.DefaultStrategy().
func (e *Engine) Evaluate(source string) (*pipeline.Strategy, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		s, evalErrs, err := e.evaluate(source)
		ch <- evalResult{strategy: s, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation)
}

// EvalFile reads and evaluates the script at path. Evaluation errors are
// returned as a *ScriptError.
func (e *Engine) EvalFile(path string) (*pipeline.Strategy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	s, evalErrs, err := e.Evaluate(string(src))
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", path, err)
	}
	if len(evalErrs) > 0 {
		return nil, &ScriptError{Path: path, Errors: evalErrs}
	}
	return s, nil
}

func (e *Engine) evaluate(source string) (*pipeline.Strategy, []EvalError, error) {
	s := pipeline.DefaultStrategy()
	if strings.TrimSpace(source) == "" {
		return &s, nil, nil
	}

	// Sandbox mode keeps scripts away from the filesystem and syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, &s)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	if err := s.Validate(); err != nil {
		return nil, []EvalError{{Message: err.Error()}}, nil
	}
	return &s, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into EvalError values,
// extracting the line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}

	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
