package authcore

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces record ids. An empty id leaves assignment to the
// storage backend.
type IDGenerator interface {
	NewID(model string) string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func(model string) string

func (f IDGeneratorFunc) NewID(model string) string { return f(model) }

type ulidGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// ULIDGenerator returns lexically sortable ids. It is the default.
func ULIDGenerator() IDGenerator {
	return &ulidGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGenerator) NewID(string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String())
}

// UUIDGenerator returns random version 4 UUIDs.
func UUIDGenerator() IDGenerator {
	return IDGeneratorFunc(func(string) string { return uuid.NewString() })
}

// DatabaseIDs lets the adapter assign ids.
func DatabaseIDs() IDGenerator {
	return IDGeneratorFunc(func(string) string { return "" })
}
