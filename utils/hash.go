package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPhone 用于 Redis 键等处，避免明文号码落盘
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:16])
}
