package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectStableAndUnlinkable(t *testing.T) {
	master := []byte("wallet master secret")

	s1 := Subject(master, "rp.example", DefaultPseudonymHexLen)
	s2 := Subject(master, "rp.example", DefaultPseudonymHexLen)
	assert.Equal(t, s1, s2)
	assert.True(t, ValidSubject(s1, DefaultPseudonymHexLen))
	assert.Len(t, s1, len(SubjectPrefix)+DefaultPseudonymHexLen)

	s3 := Subject(master, "other.example", DefaultPseudonymHexLen)
	assert.NotEqual(t, s1, s3)

	s4 := Subject([]byte("another secret"), "rp.example", DefaultPseudonymHexLen)
	assert.NotEqual(t, s1, s4)
}

func TestValidSubjectGrammar(t *testing.T) {
	assert.False(t, ValidSubject("zkid:", 40))
	assert.False(t, ValidSubject("zkid:XYZ", 40))
	assert.False(t, ValidSubject("prefix:0123456789012345678901234567890123456789", 40))
	assert.False(t, ValidSubject("zkid:0123456789abcdef0123456789abcdef01234567ff", 40))
	assert.True(t, ValidSubject("zkid:0123456789abcdef0123456789abcdef01234567", 40))

	// Configurable length knob
	assert.True(t, ValidSubject("zkid:0123456789abcdef", 16))
	assert.False(t, ValidSubject("zkid:0123456789abcdef", 40))
}

func TestRegistrableDomain(t *testing.T) {
	cases := map[string]string{
		"http://rp.test/cb":                  "rp.test",
		"https://app.shop.example.com/oauth": "example.com",
		"http://localhost:3000/cb":           "localhost",
		"http://127.0.0.1:8080/cb":           "127.0.0.1",
		"https://single/cb":                  "single",
	}
	for uri, want := range cases {
		got, err := RegistrableDomain(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, want, got, uri)
	}

	_, err := RegistrableDomain("not a uri\x7f://")
	assert.Error(t, err)
}
