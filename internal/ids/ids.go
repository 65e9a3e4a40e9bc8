package ids

import (
	"crypto/rand"
	"errors"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CodeAlphabet is the character set used for human-typed one-time codes.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Code returns n characters drawn uniformly from CodeAlphabet using crypto/rand.
func Code(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("code length must be positive")
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = CodeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
