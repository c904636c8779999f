package feature

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/addrscore/internal/domain"
)

// Dim is the number of features the classifier consumes per address.
const Dim = 66

// Vector is one address's feature row, shaped 1×Dim (immutable value object).
type Vector struct {
	values [Dim]float32
}

// Decode parses a comma-separated list of Dim numbers into a Vector.
// Every token is parsed before the count is checked, so a malformed token is
// reported ahead of a wrong count. Blank input counts as zero tokens.
func Decode(raw string) (Vector, error) {
	if strings.TrimSpace(raw) == "" {
		return Vector{}, arityError(0)
	}

	tokens := strings.Split(raw, ",")
	parsed := make([]float32, 0, len(tokens))
	for i, tok := range tokens {
		v, err := parseToken(strings.TrimSpace(tok))
		if err != nil {
			return Vector{}, fmt.Errorf("%w: token %d: %w", domain.ErrMalformedNumber, i, err)
		}
		parsed = append(parsed, v)
	}

	if len(parsed) != Dim {
		return Vector{}, arityError(len(parsed))
	}

	var vec Vector
	copy(vec.values[:], parsed)
	return vec, nil
}

// FromValues builds a Vector from already-parsed values, applying the same
// arity and finiteness rules as Decode.
func FromValues(values []float32) (Vector, error) {
	if len(values) != Dim {
		return Vector{}, arityError(len(values))
	}
	var vec Vector
	for i, v := range values {
		if !finite(v) {
			return Vector{}, fmt.Errorf("%w: value %d is not finite", domain.ErrMalformedNumber, i)
		}
		vec.values[i] = v
	}
	return vec, nil
}

func parseToken(tok string) (float32, error) {
	if tok == "" {
		return 0, fmt.Errorf("empty value")
	}
	f, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", tok, err)
	}
	v := float32(f)
	if !finite(v) {
		return 0, fmt.Errorf("%q is not finite", tok)
	}
	if !decimal(tok) {
		return 0, fmt.Errorf("%q is not a decimal number", tok)
	}
	return v, nil
}

// decimal reports whether tok uses only decimal float characters.
// ParseFloat also takes hex mantissas and digit separators; those are rejected.
func decimal(tok string) bool {
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E', c == '+', c == '-':
		default:
			return false
		}
	}
	return true
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func arityError(got int) error {
	return fmt.Errorf("%w: expected %d features, got %d", domain.ErrWrongArity, Dim, got)
}

// Values returns a copy of the row values.
func (v Vector) Values() []float32 {
	out := make([]float32, Dim)
	copy(out, v.values[:])
	return out
}

// At returns the value at column i.
func (v Vector) At(i int) float32 { return v.values[i] }

// Shape returns the matrix shape the model input expects.
func (v Vector) Shape() []int { return []int{1, Dim} }

// Bytes returns the canonical little-endian float32 encoding of the row.
// Equal vectors produce equal bytes regardless of how the input was spelled.
func (v Vector) Bytes() []byte {
	buf := make([]byte, Dim*4)
	for i, f := range v.values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
