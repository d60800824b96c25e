package anthropic

// BuildCachedSystemBlocks returns a single system block carrying a cache
// breakpoint. Stage 2 sends the same taxonomy prompt with every chunk, so the
// breakpoint lets later chunks read it from the prompt cache.
func BuildCachedSystemBlocks(text string, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
