package credits

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// pinAlphabet avoids look-alike characters (0/O, 1/I/L). 31 symbols
// over 12 positions gives roughly 2^59 distinct credentials.
const (
	pinAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	pinGroupSize  = 4
	pinGroupCount = 3
)

// RandomGenerator produces pin codes from the OS entropy source.
type RandomGenerator struct{}

// NewRandomGenerator returns the default credential generator.
func NewRandomGenerator() RandomGenerator {
	return RandomGenerator{}
}

// NewPIN returns a fresh candidate in the form XXXX-XXXX-XXXX.
func (RandomGenerator) NewPIN() (PINCode, error) {
	alphabetSize := big.NewInt(int64(len(pinAlphabet)))
	groups := make([]string, 0, pinGroupCount)
	var group strings.Builder
	for groupIndex := 0; groupIndex < pinGroupCount; groupIndex++ {
		group.Reset()
		for position := 0; position < pinGroupSize; position++ {
			index, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return PINCode{}, fmt.Errorf("read entropy: %w", err)
			}
			group.WriteByte(pinAlphabet[index.Int64()])
		}
		groups = append(groups, group.String())
	}
	return NewPINCode(strings.Join(groups, "-"))
}
