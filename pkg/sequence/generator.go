package sequence

import (
	"crypto/rand"
	"math/big"

	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRandomGenerator),
)

// Generator produces human-shareable codes. Redemption codes are handed to
// users verbally or on paper, so the alphabet excludes ambiguous characters
// (0/O, 1/I).
type Generator interface {
	NextRedemptionCode() (string, error)
}

const (
	redemptionCodeLength = 8
	codeAlphabet         = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type RandomGenerator struct{}

func NewRandomGenerator() Generator {
	return &RandomGenerator{}
}

func (g *RandomGenerator) NextRedemptionCode() (string, error) {
	return randomAlphaNumeric(redemptionCodeLength)
}

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[num.Int64()]
	}
	return string(b), nil
}
