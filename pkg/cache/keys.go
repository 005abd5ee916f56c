package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// SearchKey builds the cache key for a retrieval request. The
// conversation segment is '*' for unscoped searches so that scoped and
// unscoped entries can be invalidated independently.
func SearchKey(tenantID, conversationID, query string, topK, candidateLimit int, importanceMin *float64) string {
	conv := conversationID
	if conv == "" {
		conv = "*"
	}
	minPart := "-"
	if importanceMin != nil {
		minPart = strconv.FormatFloat(*importanceMin, 'f', -1, 64)
	}
	raw := strings.Join([]string{
		tenantID,
		conv,
		strconv.Itoa(topK),
		strconv.Itoa(candidateLimit),
		minPart,
		query,
	}, "|")
	digest := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("search:%s:%s:%s", tenantID, conv, hex.EncodeToString(digest[:]))
}

// SearchPrefix builds the invalidation prefix for a tenant and
// conversation scope.
func SearchPrefix(tenantID, conversationID string) string {
	conv := conversationID
	if conv == "" {
		conv = "*"
	}
	return fmt.Sprintf("search:%s:%s:", tenantID, conv)
}

// TenantSearchPrefix covers every search entry for a tenant across all
// conversation scopes.
func TenantSearchPrefix(tenantID string) string {
	return fmt.Sprintf("search:%s:", tenantID)
}

// EmbeddingKey builds the cache key for an embedded text.
func EmbeddingKey(text string) string {
	digest := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s", hex.EncodeToString(digest[:]))
}
