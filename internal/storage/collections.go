package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	logx "outreach/pkg/logx"
)

// SchemaVersion is written into every envelope. Documents with a higher
// version are treated as unreadable.
const SchemaVersion = 1

const quarantineLayout = "20060102T150405Z"

type envelope struct {
	Version    int             `json:"version"`
	Collection string          `json:"collection"`
	SavedAt    time.Time       `json:"saved_at"`
	Data       json.RawMessage `json:"data"`
}

// LoadResult tells the caller how a collection was obtained.
type LoadResult int

const (
	Loaded LoadResult = iota
	Created
	Healed
)

func (r LoadResult) String() string {
	switch r {
	case Loaded:
		return "loaded"
	case Created:
		return "created"
	case Healed:
		return "healed"
	default:
		return "unknown"
	}
}

// Collections reads and writes enveloped JSON documents through a Store.
type Collections struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func NewCollections(store Store, log logx.Logger) *Collections {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collections{store: store, log: log, now: time.Now}
}

// Load decodes collection name into dst, which must be a non-nil pointer
// already holding the default value.
//
// A missing document is created from the default. A corrupt document, or one
// written by a newer schema, is quarantined and replaced by the default.
// Only storage I/O failures are returned.
func (c *Collections) Load(ctx context.Context, name string, dst any) (LoadResult, error) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return Loaded, fmt.Errorf("storage: load %s: dst must be a non-nil pointer", name)
	}

	raw, err := c.store.ReadBlob(ctx, name)
	if errors.Is(err, ErrNotFound) {
		if err := c.Save(ctx, name, dst); err != nil {
			return Created, err
		}
		return Created, nil
	}
	if err != nil {
		return Loaded, fmt.Errorf("storage: read %s: %w", name, err)
	}

	fresh := reflect.New(rv.Elem().Type())
	if derr := decodeEnvelope(name, raw, fresh.Interface()); derr != nil {
		return Healed, c.heal(ctx, name, raw, dst, derr)
	}
	rv.Elem().Set(fresh.Elem())
	return Loaded, nil
}

func decodeEnvelope(name string, raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", env.Version)
	}
	if env.Collection != "" && env.Collection != name {
		return fmt.Errorf("envelope is for collection %q", env.Collection)
	}
	if len(env.Data) == 0 {
		return errors.New("envelope has no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Collections) heal(ctx context.Context, name string, raw []byte, def any, cause error) error {
	suffix := c.now().UTC().Format(quarantineLayout)
	where, qerr := c.store.QuarantineBlob(ctx, name, raw, suffix)
	if qerr != nil {
		// Keep the bad document in place rather than overwrite it unseen.
		c.log.Error("collection corrupt; quarantine failed",
			logx.String("collection", name), logx.Err(cause), logx.Any("quarantine_err", qerr))
		return fmt.Errorf("storage: quarantine %s: %w", name, qerr)
	}
	c.log.Error("collection corrupt; reset to default",
		logx.String("collection", name), logx.String("quarantined", where), logx.Err(cause))
	return c.Save(ctx, name, def)
}

// Save replaces collection name with v.
func (c *Collections) Save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}
	b, err := json.MarshalIndent(envelope{
		Version:    SchemaVersion,
		Collection: name,
		SavedAt:    c.now().UTC(),
		Data:       data,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}
	if err := c.store.WriteBlob(ctx, name, append(b, '\n')); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}
