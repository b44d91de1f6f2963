// Package recovery generates and matches one-time recovery codes used to
// bypass TOTP when the authenticator device is unavailable. Generation and
// matching are pure; atomically consuming a matched code from the persisted
// set is the account repository's job.
package recovery

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"
)

const (
	// DefaultCount is how many codes a batch contains.
	DefaultCount = 10

	// codeLength is the number of alphabet characters per code, before
	// grouping.
	codeLength = 10

	// alphabet excludes 0/O and 1/I to keep codes human-transcribable.
	alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
)

// Generate produces count unique recovery codes formatted XXXXX-XXXXX.
// The batch is returned exactly once and is never reconstructable; the
// caller persists it and must warn the user that codes are shown once.
func Generate(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultCount
	}
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := newCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// Match looks up submitted in stored with an exact, case-sensitive,
// constant-time comparison per candidate. It returns the index of the
// matched code, or -1.
func Match(submitted string, stored []string) int {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return -1
	}
	matched := -1
	for i, candidate := range stored {
		if len(candidate) != len(submitted) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(submitted)) == 1 && matched == -1 {
			matched = i
		}
	}
	return matched
}

// Remove returns stored without the element at index, preserving order.
// The input slice is not mutated.
func Remove(stored []string, index int) []string {
	if index < 0 || index >= len(stored) {
		return stored
	}
	out := make([]string, 0, len(stored)-1)
	out = append(out, stored[:index]...)
	out = append(out, stored[index+1:]...)
	return out
}

func newCode() (string, error) {
	raw := make([]byte, codeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(codeLength + 1)
	for i, r := range raw {
		if i == codeLength/2 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(r)%len(alphabet)])
	}
	return b.String(), nil
}

// FormatBatchWarning is the caller-facing notice attached when a fresh batch
// is returned.
func FormatBatchWarning(count int) string {
	return fmt.Sprintf("%d recovery codes generated; they are shown exactly once, store them securely", count)
}
