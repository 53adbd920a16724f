// Package tiktoken counts prompt tokens with the BPE encodings used by
// OpenAI-compatible models.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no model or encoding name is configured.
const DefaultEncoding = "cl100k_base"

// Tokenizer encodes text with one BPE encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the encoding for name, which may be a model name or an encoding
// name. An empty name selects DefaultEncoding.
func New(name string) (*Tokenizer, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the token ids for text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// Decode turns token ids back into text.
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

// Truncate returns the longest prefix of text that fits in max tokens.
func (t *Tokenizer) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	ids := t.Encode(text)
	if len(ids) <= max {
		return text
	}
	return t.Decode(ids[:max])
}
