package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got, err := Parse(" 1,250.50 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", got.String())

	got, err = Parse("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = Parse("ten dollars")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "ten dollars", pe.Value)
}

func TestParseField(t *testing.T) {
	_, err := ParseField("total_usd", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_usd")
}

func TestCoerce(t *testing.T) {
	assert.True(t, Coerce("NaN-ish").IsZero())
	assert.True(t, Coerce("").IsZero())
	assert.Equal(t, "42", Coerce("42").String())
}

func TestPairAdd(t *testing.T) {
	sum := pair("1.005", "10.5").Add(pair("2.004", "0.4"))

	assert.Equal(t, "3.01", sum.USD.String())
	assert.Equal(t, "11", sum.LBP.String())
}
