package shamir

import (
	"errors"
	"math/big"
	mrand "math/rand"
	"testing"

	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCombine_EveryPair(t *testing.T) {
	secret := big.NewInt(123456789)
	shares, err := Split(field.Secp256k1, secret, 3, 2)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}, {1, 0}, {2, 0}, {2, 1}}
	for _, p := range pairs {
		got, err := Combine(field.Secp256k1, []interfaces.SecretShare{shares[p[0]], shares[p[1]]})
		require.NoError(t, err)
		assert.Equal(t, 0, secret.Cmp(got), "pair %v", p)
	}
}

func TestSplitCombine_RandomSubsets(t *testing.T) {
	const maxShares, trials = 10, 1000
	rng := mrand.New(mrand.NewSource(1))
	seenShapes := make(map[[2]int]struct{})

	for trial := 0; trial < trials; trial++ {
		n := 2 + rng.Intn(maxShares-1)
		threshold := 2 + rng.Intn(n-1)
		seenShapes[[2]int{n, threshold}] = struct{}{}

		secret, err := field.Secp256k1.Rand()
		require.NoError(t, err)

		shares, err := Split(field.Secp256k1, secret, n, threshold)
		require.NoError(t, err)

		perm := rng.Perm(n)
		size := threshold + rng.Intn(n-threshold+1)
		subset := make([]interfaces.SecretShare, 0, size)
		for _, idx := range perm[:size] {
			subset = append(subset, shares[idx])
		}

		got, err := Combine(field.Secp256k1, subset)
		require.NoError(t, err)
		require.Equal(t, 0, secret.Cmp(got), "trial %d n=%d t=%d subset %v", trial, n, threshold, perm[:size])
	}
	assert.Greater(t, len(seenShapes), 20, "trials cover many (n, t) pairs")
}

func TestShareXValues(t *testing.T) {
	shares, err := Split(field.Secp256k1, big.NewInt(42), 4, 2)
	require.NoError(t, err)
	for i, s := range shares {
		assert.Equal(t, i+1, s.X)
		assert.True(t, field.Secp256k1.Contains(s.Y))
	}
}

func TestBelowThresholdDoesNotReveal(t *testing.T) {
	secret := big.NewInt(987654321)
	shares, err := Split(field.Secp256k1, secret, 5, 3)
	require.NoError(t, err)

	got, err := Combine(field.Secp256k1, shares[:2])
	require.NoError(t, err)
	assert.NotEqual(t, 0, secret.Cmp(got))

	_, err = CombineThreshold(field.Secp256k1, shares[:2], 3)
	assert.True(t, errors.Is(err, interfaces.ErrCrypto))
}

func TestSmallPrimeField(t *testing.T) {
	f := field.MustNew(big.NewInt(257))
	for s := int64(0); s < 257; s += 17 {
		shares, err := Split(f, big.NewInt(s), 6, 4)
		require.NoError(t, err)
		got, err := Combine(f, []interfaces.SecretShare{shares[5], shares[1], shares[3], shares[0]})
		require.NoError(t, err)
		assert.Equal(t, s, got.Int64())
	}
}

func TestSplitValidation(t *testing.T) {
	small := field.MustNew(big.NewInt(7))

	tests := []struct {
		name   string
		f      *field.Field
		secret *big.Int
		n, t   int
	}{
		{"threshold one", field.Secp256k1, big.NewInt(1), 3, 1},
		{"n below t", field.Secp256k1, big.NewInt(1), 2, 3},
		{"negative secret", field.Secp256k1, big.NewInt(-1), 3, 2},
		{"secret equals P", field.Secp256k1, field.Secp256k1.P(), 3, 2},
		{"nil secret", field.Secp256k1, nil, 3, 2},
		{"n exceeds field", small, big.NewInt(1), 7, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.f, tt.secret, tt.n, tt.t)
			assert.True(t, errors.Is(err, interfaces.ErrValidation), "got %v", err)
		})
	}
}

func TestCombineRejects(t *testing.T) {
	shares, err := Split(field.Secp256k1, big.NewInt(5), 3, 2)
	require.NoError(t, err)

	tests := []struct {
		name   string
		shares []interfaces.SecretShare
	}{
		{"empty", nil},
		{"single", shares[:1]},
		{"duplicate x", []interfaces.SecretShare{shares[0], {X: shares[0].X, Y: shares[1].Y}}},
		{"zero x", []interfaces.SecretShare{shares[0], {X: 0, Y: big.NewInt(1)}}},
		{"negative x", []interfaces.SecretShare{shares[0], {X: -1, Y: big.NewInt(1)}}},
		{"nil y", []interfaces.SecretShare{shares[0], {X: 9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Combine(field.Secp256k1, tt.shares)
			assert.True(t, errors.Is(err, interfaces.ErrCrypto), "got %v", err)
		})
	}
}
