package cache

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope wraps every cached payload with provenance metadata. L2Backed is
// false for entries written while L2 was unreachable; such entries must never
// outlive their in-process TTL, so the multi-level tier refuses to promote or
// re-share them.
type Envelope struct {
	Data      msgpack.RawMessage `msgpack:"data"`
	CachedAt  time.Time          `msgpack:"cached_at"`
	ExpiresAt time.Time          `msgpack:"expires_at"`
	Source    string             `msgpack:"source"`
	L2Backed  bool               `msgpack:"l2_backed"`
}

// EncodeEnvelope materializes value eagerly and wraps it. Values are always
// fully serialized before they reach either tier.
func EncodeEnvelope(value any, source string, ttl time.Duration, l2Backed bool) ([]byte, error) {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	now := time.Now()
	env := Envelope{
		Data:      raw,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
		Source:    source,
		L2Backed:  l2Backed,
	}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope parses a serialized envelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode cache envelope: %w", err)
	}
	return env, nil
}

// DecodeValue unmarshals the envelope's payload into out.
func DecodeValue(env Envelope, out any) error {
	if err := msgpack.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode cache value: %w", err)
	}
	return nil
}
