package field

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(big.NewInt(15))
	assert.True(t, errors.Is(err, interfaces.ErrValidation), "composite modulus must be rejected")

	_, err = New(big.NewInt(2))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)

	f, err := New(big.NewInt(97))
	require.NoError(t, err)
	assert.Equal(t, int64(97), f.P().Int64())
}

func TestSecp256k1Order(t *testing.T) {
	n, ok := new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)
	require.True(t, ok)
	assert.Equal(t, 0, Secp256k1.P().Cmp(n))
	assert.Equal(t, 32, Secp256k1.ByteLen())
}

func TestArithmetic(t *testing.T) {
	f := MustNew(big.NewInt(97))

	tests := []struct {
		name string
		got  *big.Int
		want int64
	}{
		{"add wraps", f.Add(big.NewInt(90), big.NewInt(10)), 3},
		{"sub negative", f.Sub(big.NewInt(3), big.NewInt(10)), 90},
		{"mul", f.Mul(big.NewInt(12), big.NewInt(9)), 11},
		{"neg", f.Neg(big.NewInt(1)), 96},
		{"neg zero", f.Neg(big.NewInt(0)), 0},
		{"reduce negative", f.Reduce(big.NewInt(-1)), 96},
		{"reduce large", f.Reduce(big.NewInt(97*5 + 4)), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.Int64())
			assert.True(t, f.Contains(tt.got))
		})
	}
}

func TestInputsNotMutated(t *testing.T) {
	f := MustNew(big.NewInt(97))
	a := big.NewInt(-5)
	b := big.NewInt(200)
	f.Add(a, b)
	f.Mul(a, b)
	_, _ = f.Inv(a)
	assert.Equal(t, int64(-5), a.Int64())
	assert.Equal(t, int64(200), b.Int64())
}

func TestInv(t *testing.T) {
	f := Secp256k1
	for i := 0; i < 50; i++ {
		a, err := f.RandNonZero()
		require.NoError(t, err)
		inv, err := f.Inv(a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), f.Mul(a, inv).Int64())
	}

	_, err := f.Inv(big.NewInt(0))
	assert.True(t, errors.Is(err, interfaces.ErrCrypto))

	_, err = f.Inv(f.P())
	assert.True(t, errors.Is(err, interfaces.ErrCrypto), "P reduces to zero")
}

func TestExp(t *testing.T) {
	f := MustNew(big.NewInt(97))
	r, err := f.Exp(big.NewInt(3), big.NewInt(96))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Int64(), "Fermat's little theorem")

	_, err = f.Exp(big.NewInt(3), big.NewInt(-1))
	assert.Error(t, err)
}

func TestRand(t *testing.T) {
	f := MustNew(big.NewInt(7))
	seen := map[int64]bool{}
	for i := 0; i < 500; i++ {
		v, err := f.Rand()
		require.NoError(t, err)
		require.True(t, f.Contains(v))
		seen[v.Int64()] = true
	}
	assert.Len(t, seen, 7)
}
