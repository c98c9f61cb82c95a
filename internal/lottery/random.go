package lottery

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"
	"math/rand"
	"sync"
)

var errInvalidRange = errors.New("random range must be positive")

// RandomSource は抽選とダイスの乱数源。テストでは決まった列を渡す。
type RandomSource interface {
	// Intn returns a uniform value in [0, n).
	Intn(n int) (int, error)
}

// SecureRandom draws from crypto/rand.
type SecureRandom struct{}

func (SecureRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errInvalidRange
	}

	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// SeededRandom is a reproducible source. Safe for concurrent use.
type SeededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewSource(seed))}
}

// NewSeed returns a seed read from crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:]) >> 1), nil
}

func (s *SeededRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errInvalidRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n), nil
}

// Between returns a uniform value in [lo, hi].
func Between(rng RandomSource, lo, hi int) (int, error) {
	if hi < lo {
		return 0, errInvalidRange
	}
	v, err := rng.Intn(hi - lo + 1)
	if err != nil {
		return 0, err
	}
	return lo + v, nil
}

// ScriptedRandom replays fixed values. Each value must be below the n it is asked for.
type ScriptedRandom struct {
	mu     sync.Mutex
	values []int
	pos    int
}

func NewScriptedRandom(values ...int) *ScriptedRandom {
	return &ScriptedRandom{values: values}
}

var ErrScriptExhausted = errors.New("scripted random exhausted")

func (s *ScriptedRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errInvalidRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.values) {
		return 0, ErrScriptExhausted
	}
	v := s.values[s.pos]
	s.pos++
	if v < 0 || v >= n {
		return 0, errInvalidRange
	}
	return v, nil
}
