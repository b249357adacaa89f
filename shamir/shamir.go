// Package shamir splits secrets into polynomial shares over a prime field and
// recombines them by Lagrange interpolation at x = 0.
//
// Shares are issued at x = 1..n. Any t of them reconstruct the secret; fewer
// reveal nothing about it. The engine is pure and safe for concurrent use.
package shamir

import (
	"math/big"

	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
)

// Split shares secret among n holders so that any t of them can reconstruct it.
// Coefficients a1..a(t-1) are drawn uniformly from the field with crypto/rand.
func Split(f *field.Field, secret *big.Int, n, t int) ([]interfaces.SecretShare, error) {
	if secret == nil || !f.Contains(secret) {
		return nil, interfaces.Validationf("secret must be in [0, P)")
	}
	if t < 2 {
		return nil, interfaces.Validationf("threshold must be at least 2, got %d", t)
	}
	if n < t {
		return nil, interfaces.Validationf("total shares %d below threshold %d", n, t)
	}
	if big.NewInt(int64(n)).Cmp(f.P()) >= 0 {
		return nil, interfaces.Validationf("total shares %d does not fit the field", n)
	}

	coeffs := make([]*big.Int, t)
	coeffs[0] = new(big.Int).Set(secret)
	for i := 1; i < t; i++ {
		c, err := f.Rand()
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	defer func() {
		for _, c := range coeffs {
			c.SetInt64(0)
		}
	}()

	shares := make([]interfaces.SecretShare, n)
	for i := 1; i <= n; i++ {
		shares[i-1] = interfaces.SecretShare{X: i, Y: evaluate(f, coeffs, big.NewInt(int64(i)))}
	}
	return shares, nil
}

// evaluate computes the polynomial at x with Horner's method.
func evaluate(f *field.Field, coeffs []*big.Int, x *big.Int) *big.Int {
	acc := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = f.Add(f.Mul(acc, x), coeffs[i])
	}
	return acc
}

// Combine interpolates the polynomial through shares and returns its value at
// x = 0. The caller is responsible for supplying at least t shares; with fewer,
// the result is an unrelated field element.
func Combine(f *field.Field, shares []interfaces.SecretShare) (*big.Int, error) {
	if len(shares) < 2 {
		return nil, interfaces.Cryptof("at least 2 shares are required, got %d", len(shares))
	}

	seen := make(map[int]struct{}, len(shares))
	xs := make([]*big.Int, len(shares))
	for i, s := range shares {
		if s.X <= 0 {
			return nil, interfaces.Cryptof("share x must be positive, got %d", s.X)
		}
		if s.Y == nil {
			return nil, interfaces.Cryptof("share x=%d has no value", s.X)
		}
		if _, dup := seen[s.X]; dup {
			return nil, interfaces.Cryptof("duplicate share x=%d", s.X)
		}
		seen[s.X] = struct{}{}
		xs[i] = f.Reduce(big.NewInt(int64(s.X)))
	}

	secret := new(big.Int)
	for i, s := range shares {
		num := big.NewInt(1)
		den := big.NewInt(1)
		for j := range shares {
			if i == j {
				continue
			}
			num = f.Mul(num, f.Neg(xs[j]))
			den = f.Mul(den, f.Sub(xs[i], xs[j]))
		}
		inv, err := f.Inv(den)
		if err != nil {
			// Only reachable when two x values collide modulo P.
			return nil, err
		}
		term := f.Mul(f.Mul(s.Y, num), inv)
		secret = f.Add(secret, term)
	}
	return secret, nil
}

// CombineThreshold is Combine that refuses fewer than t shares.
func CombineThreshold(f *field.Field, shares []interfaces.SecretShare, t int) (*big.Int, error) {
	if len(shares) < t {
		return nil, interfaces.Cryptof("insufficient shares: have %d, need %d", len(shares), t)
	}
	return Combine(f, shares)
}
