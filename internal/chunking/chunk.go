package chunking

// TextChunk is one contiguous window of a source text. StartChar and EndChar
// are half-open rune offsets into the untrimmed source; Text is the trimmed
// window content and TokenCount is measured on Text.
type TextChunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// Len is the width of the window in runes.
func (c TextChunk) Len() int { return c.EndChar - c.StartChar }

// TotalTokens sums TokenCount across chunks.
func TotalTokens(chunks []TextChunk) int {
	n := 0
	for _, c := range chunks {
		n += c.TokenCount
	}
	return n
}
