package qrtoken

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	issued := time.Now()
	token := encode("stu-1", "Priya Nair", issued)

	decoded, err := Decode(token)
	require.NoError(t, err)

	current, ok := decoded.(CurrentToken)
	require.True(t, ok, "fresh tokens decode as the current variant")
	assert.Equal(t, "stu-1", current.UserID)
	assert.Equal(t, "Priya Nair", current.UserName)
	assert.Equal(t, issued.UnixMilli(), current.IssuedAt.UnixMilli())
	assert.Equal(t, sessionIDFor("stu-1", issued.UnixMilli()), current.SessionID)
	assert.False(t, current.Claims().Legacy())
}

func TestEncodeStripsDelimiterFromName(t *testing.T) {
	token := encode("stu-1", "a|b|c", time.Now())

	decoded, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "a b c", decoded.Claims().UserName)
}

func TestDecodeLegacyFiveFieldFormat(t *testing.T) {
	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sum := checksum(tokenPrefix, "stu-2", "Arun", millis)
	token := strings.Join([]string{tokenPrefix, "stu-2", "Arun", millis, sum}, tokenDelimiter)

	decoded, err := Decode(token)
	require.NoError(t, err)

	legacy, ok := decoded.(LegacyToken)
	require.True(t, ok, "five fields decode as the legacy variant")
	assert.Equal(t, "stu-2", legacy.UserID)
	assert.True(t, legacy.Claims().Legacy())
}

func TestDecodeRejectsTampering(t *testing.T) {
	token := encode("stu-1", "Priya", time.Now())

	// Change the amount-bearing identity field, keep the old checksum.
	tampered := strings.Replace(token, "stu-1", "stu-9", 1)
	_, err := Decode(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsMalformedTokens(t *testing.T) {
	for _, tc := range []string{
		"",
		"CANTEEN",
		"CANTEEN|a|b",
		"OTHER|stu-1|Priya|1234|sess|deadbeef",
		"CANTEEN|stu-1|Priya|notanumber|sess|deadbeef",
		"CANTEEN|a|b|c|d|e|f|g",
	} {
		_, err := Decode(tc)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tc)
	}
}
