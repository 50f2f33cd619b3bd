package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var charsetLen = len(charset)

var source = newSource()

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource() *lockedSource {
	seed := make([]byte, bytesInUint64*2)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}
	return &lockedSource{
		//nolint:gosec // request ids only need to be unique per connection
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a base62 id used to pair RPC requests with responses.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	source.mu.Lock()
	for i := range buf {
		buf[i] = charset[source.rng.IntN(charsetLen)]
	}
	source.mu.Unlock()

	return string(buf)
}
