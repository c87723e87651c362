package secretbox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	s, err := New(testKey(1))
	require.NoError(t, err)

	msg := "bearer-cfi-abc123"
	ct, err := s.Seal(msg)
	require.NoError(t, err)
	require.NotContains(t, ct, msg)

	pt, err := s.Open(ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestOpen_DetectsTamper(t *testing.T) {
	t.Parallel()
	s, err := New(testKey(7))
	require.NoError(t, err)

	ct, err := s.Seal("top secret")
	require.NoError(t, err)

	bs, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	bs[len(bs)-1] ^= 0xFF

	_, err = s.Open(base64.StdEncoding.EncodeToString(bs))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpen_WrongKey(t *testing.T) {
	t.Parallel()
	a, _ := New(testKey(1))
	b, _ := New(testKey(2))

	ct, err := a.Seal("x")
	require.NoError(t, err)
	_, err = b.Open(ct)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNew_RejectsShortKey(t *testing.T) {
	t.Parallel()
	_, err := New([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)

	s, _ := New(testKey(3))
	_, err = s.Open("%%%")
	require.ErrorIs(t, err, ErrMalformed)
}
