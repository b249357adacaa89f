// Package field implements arithmetic modulo a fixed prime.
//
// All results are reduced into [0, P). Inputs may be any integer, including
// negative values, and are never modified.
package field

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/mpc-custody/interfaces"
)

// Field is the integers modulo a prime P.
type Field struct {
	p *big.Int
}

// Secp256k1 is the field over the secp256k1 group order N.
var Secp256k1 = MustNew(crypto.S256().Params().N)

// New returns the field modulo p. p must be a prime greater than 2; primality
// is checked probabilistically.
func New(p *big.Int) (*Field, error) {
	if p == nil || p.Cmp(big.NewInt(2)) <= 0 {
		return nil, interfaces.Validationf("field modulus must be a prime > 2")
	}
	if !p.ProbablyPrime(32) {
		return nil, interfaces.Validationf("field modulus %s is not prime", p)
	}
	return &Field{p: new(big.Int).Set(p)}, nil
}

// MustNew is New that panics on error.
func MustNew(p *big.Int) *Field {
	f, err := New(p)
	if err != nil {
		panic(err)
	}
	return f
}

// P returns a copy of the modulus.
func (f *Field) P() *big.Int {
	return new(big.Int).Set(f.p)
}

// ByteLen is the length of the big-endian encoding of P.
func (f *Field) ByteLen() int {
	return (f.p.BitLen() + 7) / 8
}

// Reduce returns a mod P in [0, P).
func (f *Field) Reduce(a *big.Int) *big.Int {
	// big.Int.Mod is Euclidean, so negative inputs land in range.
	return new(big.Int).Mod(a, f.p)
}

// Contains reports whether a is already reduced.
func (f *Field) Contains(a *big.Int) bool {
	return a != nil && a.Sign() >= 0 && a.Cmp(f.p) < 0
}

// Add returns a + b mod P.
func (f *Field) Add(a, b *big.Int) *big.Int {
	r := new(big.Int).Add(a, b)
	return r.Mod(r, f.p)
}

// Sub returns a - b mod P.
func (f *Field) Sub(a, b *big.Int) *big.Int {
	r := new(big.Int).Sub(a, b)
	return r.Mod(r, f.p)
}

// Mul returns a * b mod P.
func (f *Field) Mul(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Mod(r, f.p)
}

// Neg returns -a mod P.
func (f *Field) Neg(a *big.Int) *big.Int {
	r := new(big.Int).Neg(a)
	return r.Mod(r, f.p)
}

// Exp returns a^e mod P. Negative exponents are rejected.
func (f *Field) Exp(a, e *big.Int) (*big.Int, error) {
	if e.Sign() < 0 {
		return nil, interfaces.Validationf("negative exponent")
	}
	return new(big.Int).Exp(f.Reduce(a), e, f.p), nil
}

// Inv returns the multiplicative inverse of a. Zero has no inverse.
func (f *Field) Inv(a *big.Int) (*big.Int, error) {
	r := f.Reduce(a)
	if r.Sign() == 0 {
		return nil, interfaces.Cryptof("zero has no inverse modulo P")
	}
	if r.ModInverse(r, f.p) == nil {
		return nil, interfaces.Cryptof("no inverse for element")
	}
	return r, nil
}

// Rand returns a uniformly random element of [0, P) drawn from crypto/rand.
func (f *Field) Rand() (*big.Int, error) {
	return f.RandFrom(rand.Reader)
}

// RandFrom is Rand with an explicit entropy source.
func (f *Field) RandFrom(r io.Reader) (*big.Int, error) {
	v, err := rand.Int(r, f.p)
	if err != nil {
		return nil, fmt.Errorf("%w: reading randomness: %v", interfaces.ErrInternal, err)
	}
	return v, nil
}

// RandNonZero returns a uniformly random element of [1, P).
func (f *Field) RandNonZero() (*big.Int, error) {
	for {
		v, err := f.Rand()
		if err != nil {
			return nil, err
		}
		if v.Sign() != 0 {
			return v, nil
		}
	}
}
