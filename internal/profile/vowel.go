package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Vowel identifies one reference phoneme category
type Vowel uint8

const (
	A Vowel = iota
	I
	U
	E
	O

	// NumVowels is the number of reference categories
	NumVowels = 5
)

// ErrInvalidVowel is returned for vowels outside A, I, U, E, O
var ErrInvalidVowel = errors.New("profile: invalid vowel")

var vowelNames = [NumVowels]string{"A", "I", "U", "E", "O"}

// Vowels returns every category in classification order
func Vowels() []Vowel {
	return []Vowel{A, I, U, E, O}
}

// Valid reports whether v is one of the reference categories
func (v Vowel) Valid() bool {
	return v < NumVowels
}

// String returns the vowel letter
func (v Vowel) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Vowel(%d)", uint8(v))
	}
	return vowelNames[v]
}

// ParseVowel parses a vowel letter, case-insensitively
func ParseVowel(s string) (Vowel, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range vowelNames {
		if upper == name {
			return Vowel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidVowel, s)
}

// MarshalText implements encoding.TextMarshaler
func (v Vowel) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVowel, uint8(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Vowel) UnmarshalText(text []byte) error {
	parsed, err := ParseVowel(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
