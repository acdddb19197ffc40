// Package keypool selects the OCR provider API key used for each outbound request.
//
// Keys are read from a JSON key configuration in one of two shapes:
//
//	{"space_ocr_api_key": "K1"}                                        single-key mode
//	{"space_ocr_api_keys": ["K1", "K2", "K3"], "last_used_index": 0}   multi-key mode
//
// In multi-key mode a pool either rotates round-robin, persisting the cursor after every
// selection, or picks a uniformly random key with no persisted state. The configuration is
// re-read on every selection so operators can add or remove keys without a restart.
package keypool

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog"

	"docscan/internal/logger"
)

// Selection is the multi-key selection policy.
type Selection string

const (
	SelectRoundRobin Selection = "roundrobin"
	SelectRandom     Selection = "random"
)

// Mode describes how the effective key configuration is being used.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeRoundRobin Mode = "roundrobin"
	ModeRandom     Mode = "random"
)

// Credential is one API key handed to an outbound request.
type Credential struct {
	Key string

	// Index is the key's position in the pool (0 in single-key mode).
	Index int
}

// KeyPool hands out a credential per outbound OCR call.
//
// In round-robin mode every call mutates durable state, so callers must not select
// speculatively.
type KeyPool interface {
	SelectCredential(ctx context.Context) (Credential, error)
}

// KeySource loads the current key configuration.
type KeySource interface {
	Load(ctx context.Context) (*KeyConfig, error)
}

// CursorStore persists the round-robin cursor.
type CursorStore interface {
	// Advance moves the persisted cursor one step within [0, n) and returns the new value.
	Advance(ctx context.Context, n int) (int, error)

	// Cursor returns the persisted cursor without changing it.
	Cursor(ctx context.Context) (int, error)
}

// Status is a read-only snapshot of the pool.
type Status struct {
	Mode     Mode `json:"mode"`
	KeyCount int  `json:"key_count"`
	Cursor   int  `json:"cursor"`
}

// Pool is the KeyPool implementation backed by a KeySource and, for round-robin
// selection, a CursorStore.
type Pool struct {
	source    KeySource
	cursor    CursorStore
	selection Selection
	intn      func(n int) int
	log       zerolog.Logger
}

// New creates a pool. cursor may be nil when selection is SelectRandom.
func New(source KeySource, cursor CursorStore, selection Selection) *Pool {
	if selection == "" {
		selection = SelectRoundRobin
	}
	return &Pool{
		source:    source,
		cursor:    cursor,
		selection: selection,
		intn:      rand.IntN,
		log:       logger.WithComponent("keypool"),
	}
}

// SelectCredential returns the key to use for the next outbound request.
func (p *Pool) SelectCredential(ctx context.Context) (Credential, error) {
	const op = "SelectCredential"

	cfg, err := p.source.Load(ctx)
	if err != nil {
		return Credential{}, wrapError(op, err, "failed to load key configuration")
	}

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		p.log.Debug().Msg("Using single API key")
		return Credential{Key: key}, nil
	}

	keys := cfg.Keys()
	if len(keys) == 0 {
		return Credential{}, wrapError(op, ErrNoKeysConfigured, "key list is empty")
	}

	var index int
	switch p.selection {
	case SelectRandom:
		index = p.intn(len(keys))
	default:
		if p.cursor == nil {
			return Credential{}, wrapError(op, ErrCursorStore, "round-robin selection without cursor store")
		}
		index, err = p.cursor.Advance(ctx, len(keys))
		if err != nil {
			return Credential{}, wrapError(op, err, "failed to advance cursor")
		}
		index = Normalize(index, len(keys))
	}

	p.log.Debug().
		Str("selection", string(p.selection)).
		Int("total_keys", len(keys)).
		Int("current_index", index+1).
		Msg("API key rotated")

	return Credential{Key: keys[index], Index: index}, nil
}

// Status reports mode, key count and the persisted cursor without advancing it.
func (p *Pool) Status(ctx context.Context) (Status, error) {
	const op = "Status"

	cfg, err := p.source.Load(ctx)
	if err != nil {
		return Status{}, wrapError(op, err, "failed to load key configuration")
	}

	if strings.TrimSpace(cfg.APIKey) != "" {
		return Status{Mode: ModeSingle, KeyCount: 1}, nil
	}

	keys := cfg.Keys()
	if len(keys) == 0 {
		return Status{}, wrapError(op, ErrNoKeysConfigured, "key list is empty")
	}

	if p.selection == SelectRandom {
		return Status{Mode: ModeRandom, KeyCount: len(keys)}, nil
	}

	status := Status{Mode: ModeRoundRobin, KeyCount: len(keys)}
	if p.cursor != nil {
		cursor, err := p.cursor.Cursor(ctx)
		if err != nil {
			return Status{}, wrapError(op, err, "failed to read cursor")
		}
		status.Cursor = Normalize(cursor, len(keys))
	}
	return status, nil
}

// Normalize maps any cursor value into [0, n).
func Normalize(cursor, n int) int {
	if n <= 0 {
		return 0
	}
	return ((cursor % n) + n) % n
}

// next returns the cursor value following last for a pool of n keys.
func next(last, n int) int {
	return (Normalize(last, n) + 1) % n
}
