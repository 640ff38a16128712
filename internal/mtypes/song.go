package mtypes

// Song is one playable track in a normalized playlist.
type Song struct {
	Name   string `json:"name"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
	Cover  string `json:"cover"`
	Lyrics string `json:"lrc,omitempty"`
}

// URLs returns the non-empty song URLs, deduplicated in first-seen order.
func URLs(songs []Song) []string {
	seen := make(map[string]struct{}, len(songs))
	urls := make([]string, 0, len(songs))
	for _, s := range songs {
		if s.URL == "" {
			continue
		}
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		urls = append(urls, s.URL)
	}
	return urls
}
