package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmptyToken is returned when sealing an empty token.
var ErrEmptyToken = errors.New("token is empty")

// ErrDestroyed is returned when using a token after Destroy.
var ErrDestroyed = errors.New("sealed token was destroyed")

// SealedToken holds a tenant vault token encrypted in a memguard enclave.
// The plaintext only exists in locked memory for the duration of Use.
type SealedToken struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// Seal copies token into a new enclave.
func Seal(token string) (*SealedToken, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	// NewEnclave wipes its input, so hand it a private copy.
	buf := []byte(token)
	return &SealedToken{enclave: memguard.NewEnclave(buf)}, nil
}

// Use decrypts the token and passes it to fn. The locked buffer is wiped when
// fn returns. fn receives an ordinary heap string and should not retain it.
func (s *SealedToken) Use(fn func(token string) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return ErrDestroyed
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(string(locked.Bytes()))
}

// Destroy drops the enclave. It is idempotent.
//
// For complete cleanup of all memguard data at process exit, call
// memguard.Purge in main.
func (s *SealedToken) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (s *SealedToken) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}
