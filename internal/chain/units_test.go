package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"5000000000000000", "0.005"},
		{"10000000000000000", "0.01"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
	}
	for _, tt := range tests {
		n, ok := new(big.Int).SetString(tt.wei, 10)
		require.True(t, ok)
		assert.Equal(t, tt.want, FormatEther(n), tt.wei)
	}
	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseEther(t *testing.T) {
	n, err := ParseEther("0.005")
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", n.String())

	n, err = ParseEther("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", n.String())

	_, err = ParseEther("abc")
	assert.Error(t, err)
	_, err = ParseEther("0.0000000000000000001")
	assert.Error(t, err)
}

func TestParseQuantity(t *testing.T) {
	n, err := ParseQuantity("0x")
	require.NoError(t, err)
	assert.Zero(t, n.Sign())

	n, err = ParseQuantity("0xff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), n.Int64())

	_, err = ParseQuantity("ff")
	assert.Error(t, err)
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsAddress(testWallet))
	assert.False(t, IsAddress("0x123"))
	assert.True(t, IsTxHash(testTx))
	assert.True(t, SameAddress("0xABCDEF0000000000000000000000000000000000", "0xabcdef0000000000000000000000000000000000"))
	assert.False(t, SameAddress("", ""))
}
