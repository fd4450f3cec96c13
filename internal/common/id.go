package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDPrefix identifies the entity family a public ID belongs to
type IDPrefix string

const (
	PrefixUser      IDPrefix = "USR"
	PrefixBuyer     IDPrefix = "BYR"
	PrefixBuilder   IDPrefix = "BLD"
	PrefixCommunity IDPrefix = "CMY"
	PrefixProperty  IDPrefix = "PRP"
	PrefixJob       IDPrefix = "JOB"
	PrefixChange    IDPrefix = "CHG"
)

// idAlphabet excludes 0/O and 1/I so IDs survive being read aloud or retyped
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewPublicID generates an ID of the form PREFIX-TIMESTAMP-RANDOM6,
// e.g. BLD-1699564234-A7K9M2. The timestamp is unix seconds; the suffix
// is derived from a fresh UUID.
func NewPublicID(prefix IDPrefix) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().Unix(), randomSuffix())
}

func randomSuffix() string {
	raw := uuid.New()
	var b strings.Builder
	b.Grow(6)
	for i := 0; i < 6; i++ {
		b.WriteByte(idAlphabet[int(raw[i])%len(idAlphabet)])
	}
	return b.String()
}

// ParsePublicID splits a public ID and validates its shape.
// Returns the prefix, the unix timestamp, and the random suffix.
func ParsePublicID(id string) (IDPrefix, int64, string, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("malformed public ID %q: expected PREFIX-TIMESTAMP-RANDOM", id)
	}

	prefix := IDPrefix(parts[0])
	switch prefix {
	case PrefixUser, PrefixBuyer, PrefixBuilder, PrefixCommunity, PrefixProperty, PrefixJob, PrefixChange:
	default:
		return "", 0, "", fmt.Errorf("unknown ID prefix %q", parts[0])
	}

	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ts <= 0 {
		return "", 0, "", fmt.Errorf("malformed public ID %q: bad timestamp", id)
	}

	if len(parts[2]) != 6 {
		return "", 0, "", fmt.Errorf("malformed public ID %q: suffix must be 6 characters", id)
	}
	for _, r := range parts[2] {
		if !strings.ContainsRune(idAlphabet, r) {
			return "", 0, "", fmt.Errorf("malformed public ID %q: suffix contains invalid character %q", id, r)
		}
	}

	return prefix, ts, parts[2], nil
}

// HasPrefix reports whether id carries the given prefix
func HasPrefix(id string, prefix IDPrefix) bool {
	return strings.HasPrefix(id, string(prefix)+"-")
}
