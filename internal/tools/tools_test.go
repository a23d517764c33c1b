package tools

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Agent-Arena/internal/errors"
)

func TestDecodePayloadAmounts(t *testing.T) {
	var p AddressPayment
	require.NoError(t, DecodePayload(map[string]any{"to_address": "0xabc", "amount": 12.5, "memo": "logo"}, &p))
	assert.Equal(t, "0xabc", p.ToAddress)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("12.5")))

	var e EmailPayment
	require.NoError(t, DecodePayload(map[string]any{"email": "a@b.c", "amount": "$3.10", "expires_in_days": "7"}, &e))
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("3.1")))
	assert.Equal(t, 7, e.ExpiresInDays)
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	var p AddressPayment
	err := DecodePayload(map[string]any{"amount": "lots"}, &p)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestErrorResultCarriesCode(t *testing.T) {
	res := ErrorResult(xerrors.New(xerrors.CodeTimeout, "browser timed out"))
	assert.Equal(t, StatusError, res.Status())
	assert.Equal(t, "TIMEOUT", res["code"])
	assert.Equal(t, "browser timed out", res["error"])

	plain := ErrorResult(errors.New("boom"))
	assert.Equal(t, "boom", plain["error"])
	assert.NotContains(t, plain, "code")
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive("Yes, count me in!"))
	assert.True(t, IsPositive("Happy to BOOK a call"))
	assert.False(t, IsPositive("please remove me from this list"))
}
