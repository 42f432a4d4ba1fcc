package search

// NgramAnalyzer is the analyzer defined by DefaultSettings.
const NgramAnalyzer = "default_ngram"

// DefaultMapping indexes title as text with a standard-analyzed subfield.
func DefaultMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"title": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"standard": map[string]any{"type": "text", "analyzer": "standard"},
				},
			},
		},
	}
}

// DefaultSettings defines the default_ngram analyzer: 3-4 character grams
// over letters and digits.
func DefaultSettings() map[string]any {
	return map[string]any{
		"analysis": map[string]any{
			"analyzer": map[string]any{
				NgramAnalyzer: map[string]any{
					"tokenizer": "default_ngram_tokenizer",
				},
			},
			"tokenizer": map[string]any{
				"default_ngram_tokenizer": map[string]any{
					"type":        "ngram",
					"min_gram":    3,
					"max_gram":    4,
					"token_chars": []string{"letter", "digit"},
				},
			},
		},
	}
}

// IndexBody merges mapping and settings into a create-index request body.
func IndexBody(mapping, settings map[string]any) map[string]any {
	body := map[string]any{}
	if mapping != nil {
		body["mappings"] = mapping
	}
	if settings != nil {
		body["settings"] = settings
	}
	return body
}
