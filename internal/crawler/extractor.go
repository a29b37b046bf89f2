package crawler

import "github.com/alvmarrod/menu-weaver/internal/storage"

// Extractor turns the content of a fetched page into a structured record
type Extractor interface {
	Extract(content []byte, pageURL string) (storage.PageRecord, error)
}

// ExtractFunc adapts a function to the Extractor interface
type ExtractFunc func(content []byte, pageURL string) (storage.PageRecord, error)

// Extract calls f(content, pageURL)
func (f ExtractFunc) Extract(content []byte, pageURL string) (storage.PageRecord, error) {
	return f(content, pageURL)
}
