package messaging

import "strings"

// SplitMessage breaks a long body into chunks no larger than limit,
// preferring newline boundaries so numbered lists survive intact. A
// single line longer than the limit is hard-split.
func SplitMessage(body string, limit int) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if limit <= 0 || len(body) <= limit {
		return []string{body}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(body, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}

		// +1 for the newline that would join the pending chunk.
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}
