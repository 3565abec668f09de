package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnknownScope is returned when executing against a scope this engine did not create.
var ErrUnknownScope = errors.New("unknown scope")

type recordedScope struct {
	id string
}

func (s *recordedScope) ID() string {
	return s.id
}

// Recorder is an in-process Engine that keeps every injected snippet per
// scope instead of interpreting it. It stands in for a real interpreter and
// backs the tests.
type Recorder struct {
	log *zerolog.Logger

	mu      sync.Mutex
	paths   []string
	history map[*recordedScope][]string
}

// NewRecorder constructs an empty recorder.
func NewRecorder(logger *zerolog.Logger) *Recorder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Recorder{
		log:     logger,
		history: make(map[*recordedScope][]string),
	}
}

// CreateScope implements Engine.
func (r *Recorder) CreateScope() Scope {
	s := &recordedScope{id: uuid.NewString()}

	r.mu.Lock()
	r.history[s] = nil
	r.mu.Unlock()

	return s
}

// Execute implements Engine.
func (r *Recorder) Execute(ctx context.Context, code string, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, ok := scope.(*recordedScope)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownScope, scope)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.history[s]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownScope, s.id)
	}
	r.history[s] = append(r.history[s], code)
	r.log.Debug().Str("scope", s.id).Int("bytes", len(code)).Msg("code injected")
	return nil
}

// ConfigureSearchPaths implements Engine.
func (r *Recorder) ConfigureSearchPaths(paths []string) {
	r.mu.Lock()
	r.paths = append([]string(nil), paths...)
	r.mu.Unlock()
}

// History returns the code executed in scope, oldest first.
func (r *Recorder) History(scope Scope) []string {
	s, ok := scope.(*recordedScope)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history[s]...)
}

// SearchPaths returns the configured search paths.
func (r *Recorder) SearchPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}
