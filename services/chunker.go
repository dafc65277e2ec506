package services

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkText splits normalized text into overlapping fixed-size windows.
// Window i+1 starts at end(i) − overlap, so consecutive chunks share exactly
// `overlap` characters and together cover the whole text with no gaps. The
// last window always ends at the end of the text. Size and overlap count
// runes, not bytes, so a window boundary can never split a multi-byte
// character.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, &ConfigError{Msg: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	if overlap < 0 || overlap >= size {
		return nil, &ConfigError{Msg: fmt.Sprintf("chunk overlap must be in [0, size), got size=%d overlap=%d", size, overlap)}
	}

	var chunks []string
	runes := []rune(text)
	n := len(runes)
	start := 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// FileSHA1 streams the file through SHA-1 and returns the hex digest. The
// digest namespaces the file's point ids, so identical bytes always map to
// identical ids.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PointID derives the deterministic vector-store id for one chunk: the first
// 8 bytes of md5("<digest>:<index>") read big-endian, reduced into the signed
// 63-bit range Qdrant accepts for integer ids.
func PointID(fileDigest string, chunkIndex int) uint64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", fileDigest, chunkIndex)))
	return binary.BigEndian.Uint64(sum[:8]) % (1<<63 - 1)
}

// TruncateExcerpt bounds the payload text stored per point. The cut is made
// on a rune boundary so the stored excerpt stays valid UTF-8.
func TruncateExcerpt(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
