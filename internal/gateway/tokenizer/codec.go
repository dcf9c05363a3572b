// Package tokenizer provides the token codec and the per-model tokenizer
// profile: pad/EOS configuration, the fallback chat template, and the default
// stop-sequence list derived from the model's conventions.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

const encodingName = "cl100k_base"

// EndOfTextToken is the cl100k_base end-of-text token ID.
const EndOfTextToken = 100257

// Codec converts between text and token IDs.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
	// EOSToken is the end-of-sequence token ID generation stops on.
	EOSToken() int
}

// TiktokenCodec implements Codec over the bundled cl100k_base BPE table, so
// the gateway needs no network access to tokenize.
type TiktokenCodec struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCodec builds the shared codec.
func NewTiktokenCodec() (*TiktokenCodec, error) {
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenCodec{encoding: encoding}, nil
}

func (c *TiktokenCodec) Encode(text string) []int {
	return c.encoding.Encode(text, nil, nil)
}

func (c *TiktokenCodec) Decode(tokens []int) string {
	return c.encoding.Decode(tokens)
}

func (c *TiktokenCodec) EOSToken() int { return EndOfTextToken }
