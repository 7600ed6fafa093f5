package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkFundsReservations(t *testing.T) {
	f := NewLinkFunds("link-1", "asset", 1)
	f.Funded = big.NewInt(1_000)

	require.NoError(t, f.Reserve(big.NewInt(600)))
	assert.Equal(t, "400", f.Available().String())

	assert.Error(t, f.Reserve(big.NewInt(401)), "cannot reserve more than the link holds")
	assert.Equal(t, "600", f.Reserved.String(), "failed reservation changes nothing")

	f.Settle(big.NewInt(600))
	assert.Equal(t, "0", f.Reserved.String())
	assert.Equal(t, "600", f.Paid.String())
	assert.Equal(t, "400", f.Available().String())

	require.NoError(t, f.Reserve(big.NewInt(400)))
	f.Release(big.NewInt(400))
	assert.Equal(t, "400", f.Available().String())

	assert.Error(t, f.Reserve(big.NewInt(401)))
}

func TestPoolUnattributed(t *testing.T) {
	p := &Pool{Asset: "asset", Accounted: big.NewInt(50_000)}
	assert.Equal(t, "0", p.Unattributed(big.NewInt(50_000)).String())
	assert.Equal(t, "1010", p.Unattributed(big.NewInt(51_010)).String())

	c := p.Clone()
	c.Accounted.SetInt64(1)
	assert.Equal(t, "50000", p.Accounted.String())
}
