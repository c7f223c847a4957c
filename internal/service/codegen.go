package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	apperrors "github.com/openclaw/channel-router/internal/errors"
)

const (
	// pairingCodeChars omits O, I, 0 and 1 so codes survive being read aloud.
	pairingCodeChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodePrefix  = "OA-"
	pairingCodeLength  = 6
	maxCodeGenAttempts = 10
)

// CodeExistsFunc reports whether a code is already held by a non-expired pairing.
type CodeExistsFunc func(ctx context.Context, code string) (bool, error)

type CodeGenerator struct {
	exists CodeExistsFunc
}

func NewCodeGenerator(exists CodeExistsFunc) *CodeGenerator {
	return &CodeGenerator{exists: exists}
}

func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeGenAttempts; attempt++ {
		code, err := generateRandomCode()
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check pairing code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", apperrors.AllocationExhausted(maxCodeGenAttempts)
}

func generateRandomCode() (string, error) {
	limit := big.NewInt(int64(len(pairingCodeChars)))
	buf := make([]byte, pairingCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = pairingCodeChars[n.Int64()]
	}
	return pairingCodePrefix + string(buf), nil
}
