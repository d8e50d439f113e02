package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// targetQueryParams are URL query parameters that carry the content id,
// checked in order.
var targetQueryParams = []string{"v", "id", "video_id", "clip_id"}

// idSegmentPattern accepts a path segment that plausibly is a content id
var idSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,}$`)

// digitRunPattern is the legacy extraction heuristic: the first run of 8 to
// 12 digits anywhere in the input. It misfires on URLs with unrelated
// numeric substrings, so it is only consulted when structured URL parsing
// finds nothing.
var digitRunPattern = regexp.MustCompile(`\d{8,12}`)

// ExtractTargetID resolves a free-form user input (URL or bare id) into the
// identifier passed to the downloader. Structured URL parsing is tried
// first; the digit-run regex is a last-resort fallback.
func ExtractTargetID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty target")
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		if id := extractFromURL(input); id != "" {
			return id, nil
		}
		if match := digitRunPattern.FindString(input); match != "" {
			return match, nil
		}
		return "", fmt.Errorf("no target id in URL: %s", input)
	}

	if idSegmentPattern.MatchString(input) {
		return input, nil
	}
	if match := digitRunPattern.FindString(input); match != "" {
		return match, nil
	}
	return "", fmt.Errorf("unrecognized target: %s", input)
}

func extractFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	query := parsed.Query()
	for _, param := range targetQueryParams {
		if value := query.Get(param); value != "" {
			return value
		}
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" || strings.Contains(segment, ".") {
			continue
		}
		if idSegmentPattern.MatchString(segment) {
			return segment
		}
	}
	return ""
}
