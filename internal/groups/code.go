package groups

import (
	"crypto/rand"
	"strings"
)

// CodeGenerator produces candidate join codes.
type CodeGenerator interface {
	NewCode() (string, error)
}

// CodeGeneratorFunc adapts a function to CodeGenerator.
type CodeGeneratorFunc func() (string, error)

// NewCode calls f.
func (f CodeGeneratorFunc) NewCode() (string, error) {
	return f()
}

type randomCodeGenerator struct{}

// NewRandomCodeGenerator draws codes uniformly from CodeAlphabet.
func NewRandomCodeGenerator() CodeGenerator {
	return randomCodeGenerator{}
}

func (randomCodeGenerator) NewCode() (string, error) {
	buffer := make([]byte, CodeLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	var builder strings.Builder
	builder.Grow(CodeLength)
	for _, value := range buffer {
		// 256 is a multiple of the 32-symbol alphabet, so the modulo is unbiased.
		builder.WriteByte(CodeAlphabet[int(value)%len(CodeAlphabet)])
	}
	return builder.String(), nil
}
