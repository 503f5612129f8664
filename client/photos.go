package client

import "sync/atomic"

// PhotoPreparer guards asynchronous photo preparation (resize, encode,
// upload staging) with a generation counter. Each batch gets a token;
// starting a newer batch or cancelling invalidates every earlier token,
// so preparations that finish late deliver nothing.
type PhotoPreparer struct {
	generation atomic.Uint64
}

// PrepareToken identifies one preparation batch.
type PrepareToken struct {
	p   *PhotoPreparer
	gen uint64
}

// Begin starts a new batch, invalidating all previous tokens.
func (p *PhotoPreparer) Begin() PrepareToken {
	return PrepareToken{p: p, gen: p.generation.Add(1)}
}

// Cancel invalidates all outstanding tokens without starting a batch.
func (p *PhotoPreparer) Cancel() {
	p.generation.Add(1)
}

// Valid reports whether the token still belongs to the current batch.
func (t PrepareToken) Valid() bool {
	return t.p != nil && t.p.generation.Load() == t.gen
}

// Deliver runs fn only when the token is still current, reporting
// whether it ran. Results from a superseded or cancelled batch are
// discarded here.
func (t PrepareToken) Deliver(fn func()) bool {
	if !t.Valid() {
		return false
	}
	fn()
	return true
}
