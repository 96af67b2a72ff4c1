package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// phcHash holds the parsed parameters and digest of an argon2id PHC string
// ("$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<hash>").
// x/crypto exposes only the raw KDF, so the envelope is parsed here.
type phcHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	sum     []byte
}

func parsePHC(s string) (phcHash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phcHash{}, fmt.Errorf("malformed PHC hash string")
	}
	if parts[1] != "argon2id" {
		return phcHash{}, fmt.Errorf("unsupported hash function %q, want argon2id", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return phcHash{}, fmt.Errorf("malformed argon2 version %q", parts[2])
	}
	if version != argon2.Version {
		return phcHash{}, fmt.Errorf("argon2 version %d not supported, want %d", version, argon2.Version)
	}

	var h phcHash
	for _, param := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			return phcHash{}, fmt.Errorf("malformed argon2 parameter %q", param)
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return phcHash{}, fmt.Errorf("malformed argon2 parameter %q: %w", param, err)
		}
		switch key {
		case "m":
			h.memory = uint32(n)
		case "t":
			h.time = uint32(n)
		case "p":
			if n == 0 || n > 255 {
				return phcHash{}, fmt.Errorf("argon2 parallelism %d out of range", n)
			}
			h.threads = uint8(n)
		default:
			return phcHash{}, fmt.Errorf("unknown argon2 parameter %q", key)
		}
	}
	if h.memory == 0 || h.time == 0 || h.threads == 0 {
		return phcHash{}, fmt.Errorf("incomplete argon2 parameters in %q", parts[3])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return phcHash{}, fmt.Errorf("malformed argon2 salt: %w", err)
	}
	if h.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return phcHash{}, fmt.Errorf("malformed argon2 digest: %w", err)
	}
	if len(h.sum) == 0 {
		return phcHash{}, fmt.Errorf("empty argon2 digest")
	}
	return h, nil
}

// verify recomputes the digest for password and compares in constant time.
func (h phcHash) verify(password string) bool {
	sum := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.sum)))
	return subtle.ConstantTimeCompare(sum, h.sum) == 1
}
