// Package incremental memoizes deterministic computations across process
// runs. An execution is reused while its code version, configuration, input
// paths, input contents and output contents are all unchanged.
package incremental

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"depweaver/internal/filelock"
	"depweaver/internal/metrics"
)

// ErrRelativePath is returned when an input path is not absolute.
var ErrRelativePath = errors.New("input paths must be absolute")

// ExecutionResult is what a computation produces.
type ExecutionResult struct {
	// Outputs are files or directories whose state is recorded; a later
	// change to them invalidates the execution.
	Outputs []string
	// OutputProperties are returned verbatim from the cache. They do not
	// take part in up-to-date checks.
	OutputProperties map[string]string
	// ExcludedOutputs are ignored when comparing output states.
	ExcludedOutputs []string
	// DiscoveredInputs are absolute paths the computation turned out to
	// depend on. A later change to them invalidates the execution, like a
	// change to the inputs passed to Execute.
	DiscoveredInputs []string
}

// Result is an ExecutionResult plus what changed in the outputs.
type Result struct {
	ExecutionResult
	// UpToDate is true when the cached result was returned without running
	// the computation.
	UpToDate bool
	// Reason says why the computation ran. Empty for up-to-date results.
	Reason string
	// Changes compares the outputs with the previous execution. It is empty
	// for up-to-date results.
	Changes []Change
}

// Executor runs computations through the cache.
type Executor struct {
	// StateRoot holds the lock files, and the state files of the default
	// store.
	StateRoot string
	// CodeVersion identifies the logic being cached. Changing it invalidates
	// every state.
	CodeVersion string
	// Store persists states. If nil, a FileStateStore in StateRoot is used.
	Store StateStore

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	initOnce sync.Once
	initErr  error
	locks    keyedMutex
}

func (e *Executor) init() error {
	e.initOnce.Do(func() {
		if e.StateRoot == "" {
			e.initErr = errors.New("incremental: state root is required")
			return
		}
		if e.Store == nil {
			e.Store, e.initErr = NewFileStateStore(e.StateRoot)
		}
		if e.Logger == nil {
			e.Logger = zap.NewNop()
		}
	})
	return e.initErr
}

// Execute returns the cached result for id, or runs compute and records its
// result.
//
// At most one Execute per id runs at a time, across goroutines and
// processes sharing StateRoot. A caller that waited for another one
// re-checks the state and usually gets its result without running compute.
// compute must not call Execute with the same id.
//
// If compute fails, reports a missing output, or ctx is cancelled, nothing
// is persisted. An unreadable state is a cache miss, never an error.
func (e *Executor) Execute(ctx context.Context, id string, configuration map[string]string, inputs []string, compute func(ctx context.Context) (ExecutionResult, error)) (*Result, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	for _, p := range inputs {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("%w: %q", ErrRelativePath, p)
		}
	}
	if configuration == nil {
		configuration = map[string]string{}
	}
	log := e.Logger.With(zap.String("id", id))
	key := stateKey(id)

	unlock, err := e.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	fl, err := filelock.Acquire(ctx, filepath.Join(e.StateRoot, key+".lock"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := fl.Release(); err != nil {
			log.Warn("failed to release state lock", zap.Error(err))
		}
	}()

	start := time.Now()
	previous, err := e.Store.Load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		previous = nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("discarding unreadable incremental state", zap.String("key", key), zap.Error(err))
		if err := e.Store.Delete(ctx, key); err != nil {
			log.Warn("failed to delete incremental state", zap.String("key", key), zap.Error(err))
		}
		previous = nil
	}

	inputsState, err := pathStates(inputs, nil, false)
	if err != nil {
		return nil, fmt.Errorf("read input states: %w", err)
	}
	fingerprint := Fingerprint(e.CodeVersion, id, configuration, inputs, inputsState)

	reason := "no previous state"
	if previous != nil {
		reason, err = e.outdated(previous, fingerprint, configuration, inputs, inputsState)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			log.Debug("up-to-date", zap.Duration("check", time.Since(start)))
			e.Metrics.ObserveExecution(metrics.OutcomeHit)
			return &Result{
				ExecutionResult: ExecutionResult{
					Outputs:          slices.Clone(previous.Outputs),
					OutputProperties: maps.Clone(previous.OutputProperties),
					ExcludedOutputs:  slices.Clone(previous.ExcludedOutputs),
					DiscoveredInputs: slices.Clone(previous.DiscoveredInputs),
				},
				UpToDate: true,
			}, nil
		}
	}
	log.Debug("building", zap.String("reason", reason))
	e.Metrics.ObserveExecution(metrics.OutcomeMiss)

	computeStart := time.Now()
	res, err := compute(ctx)
	e.Metrics.ObserveCompute(time.Since(computeStart))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.OutputProperties == nil {
		res.OutputProperties = map[string]string{}
	}
	for _, p := range res.DiscoveredInputs {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("discovered input: %w: %q", ErrRelativePath, p)
		}
	}
	discovered := sortedUnique(res.DiscoveredInputs)
	discoveredState, err := pathStates(discovered, nil, false)
	if err != nil {
		return nil, fmt.Errorf("read discovered input states: %w", err)
	}

	outputsState, err := pathStates(res.Outputs, toSet(res.ExcludedOutputs), true)
	if err != nil {
		return nil, err
	}
	st := &State{
		FormatVersion:    formatVersion,
		CodeVersion:      e.CodeVersion,
		Fingerprint:      fingerprint,
		Configuration:    maps.Clone(configuration),
		Inputs:           sortedUnique(inputs),
		InputsState:      inputsState,
		Outputs:          slices.Clone(res.Outputs),
		ExcludedOutputs:  sortedUnique(res.ExcludedOutputs),
		OutputsState:     outputsState,
		OutputProperties: maps.Clone(res.OutputProperties),

		DiscoveredInputs:      discovered,
		DiscoveredInputsState: discoveredState,
	}
	if err := e.Store.Save(ctx, key, st); err != nil {
		return nil, fmt.Errorf("save incremental state: %w", err)
	}

	var old map[string]string
	if previous != nil {
		old = previous.OutputsState
	}
	changes := compareStates(old, outputsState)
	log.Debug("finished",
		zap.Duration("took", time.Since(computeStart)),
		zap.Int("outputs", len(res.Outputs)),
		zap.Int("changes", len(changes)))
	return &Result{ExecutionResult: res, Reason: reason, Changes: changes}, nil
}

// outdated explains why previous cannot be reused, or returns "".
func (e *Executor) outdated(previous *State, fingerprint string, configuration map[string]string, inputs []string, inputsState map[string]string) (string, error) {
	switch {
	case previous.CodeVersion != e.CodeVersion:
		return fmt.Sprintf("code version changed from %q to %q", previous.CodeVersion, e.CodeVersion), nil
	case !maps.Equal(previous.Configuration, configuration):
		return "configuration changed", nil
	case !slices.Equal(previous.Inputs, sortedUnique(inputs)):
		return "input paths changed", nil
	case !maps.Equal(previous.InputsState, inputsState):
		return "inputs changed", nil
	case previous.Fingerprint != fingerprint:
		return "fingerprint changed", nil
	}
	discoveredState, err := pathStates(previous.DiscoveredInputs, nil, false)
	if err != nil {
		return "", fmt.Errorf("read discovered input states: %w", err)
	}
	if !maps.Equal(previous.DiscoveredInputsState, discoveredState) {
		return "discovered inputs changed", nil
	}
	outputsState, err := pathStates(previous.Outputs, toSet(previous.ExcludedOutputs), false)
	if err != nil {
		return "", fmt.Errorf("read output states: %w", err)
	}
	if !maps.Equal(previous.OutputsState, outputsState) {
		return "outputs changed", nil
	}
	return "", nil
}

// keyedMutex serializes callers per key. Waiting honours ctx.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	release := func() {
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}
