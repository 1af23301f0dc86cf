package auth

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt cost 10 lands around 65ms per hash. A stall that long on the request
// path starves the scheduler, so hashing runs through a bounded worker pool
// sized to the CPU count.
const bcryptCost = 10

// PasswordPool serializes KDF work onto at most size concurrent slots.
type PasswordPool struct {
	slots chan struct{}
}

// NewPasswordPool builds a pool of the given size; size <= 0 means
// GOMAXPROCS.
func NewPasswordPool(size int) *PasswordPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &PasswordPool{slots: make(chan struct{}, size)}
}

func (p *PasswordPool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PasswordPool) release() { <-p.slots }

// Hash derives a bcrypt hash of password inside a pool slot.
func (p *PasswordPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	type result struct {
		hash []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer p.release()
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		ch <- result{h, err}
	}()
	select {
	case res := <-ch:
		return string(res.hash), res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Verify checks password against a stored hash inside a pool slot.
func (p *PasswordPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	ch := make(chan error, 1)
	go func() {
		defer p.release()
		ch <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()
	select {
	case err := <-ch:
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return err == nil, err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
