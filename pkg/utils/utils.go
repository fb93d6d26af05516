package utils

import (
	"crypto/md5"
	"fmt"
)

const (
	// Gi is the number of bytes in one gibibyte
	Gi int64 = 1024 * 1024 * 1024
	// Ki is the number of bytes in one kibibyte
	Ki int64 = 1024
)

// Hash returns the MD5 hash of a string
func Hash(str string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(str)))
}

// ByteToGb converts a byte count into whole gibibytes, rounding down
func ByteToGb(bytes int64) int {
	return int(bytes / Gi)
}

// GbToByte converts gibibytes into bytes
func GbToByte(gb int) int64 {
	return int64(gb) * Gi
}

// RemoveStringItem removes an item from the slice, keeping order
func RemoveStringItem(items []string, itemToRemove string) []string {
	for i, item := range items {
		if item == itemToRemove {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
