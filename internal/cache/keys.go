package cache

import "fmt"

// StatusKey is the cache key for the lightweight status document.
func StatusKey(analysisID string) string {
	return fmt.Sprintf("status:%s", analysisID)
}

// ResultKey is the cache key for the full result blob.
func ResultKey(analysisID string) string {
	return fmt.Sprintf("results:%s", analysisID)
}
