package util

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func Env(name string, defaultValue ...string) string {
	value, ok := os.LookupEnv(name)
	if !ok && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	Assert(ok, "Environment variable "+name+" not found")
	return value
}

func Assert(ok bool, args ...any) {
	if !ok {
		log.Fatal("Assertion failed, killing app!!!", append([]any{"FATAL:"}, args...))
		os.Exit(1)
	}
}

// SanitizeDocument strips everything but digits from a CPF/CNPJ.
func SanitizeDocument(doc string) string {
	var b strings.Builder
	for _, r := range doc {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCPF checks length only, the provider validates check digits.
func ValidCPF(cpf string) bool {
	return len(SanitizeDocument(cpf)) == 11
}
