package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/fetchd/internal/model"
)

// Progress bounds
const (
	MinProgress = 0.0
	MaxProgress = 100.0
)

// percentPattern matches the completion percentage yt-dlp prints on its
// [download] lines, e.g. "[download]  45.5% of 12.3MiB at 1.2MiB/s"
var percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// milestoneMarkers maps recognizable substrings of tool output to
// human-readable milestone messages. First match wins.
var milestoneMarkers = []struct {
	Marker  string
	Message string
}{
	{"[download] Destination:", "Download started"},
	{"has already been downloaded", "Already downloaded"},
	{"[Merger]", "Merging formats"},
	{"[ExtractAudio]", "Extracting audio"},
	{"[FixupM4a]", "Fixing container"},
	{"Deleting original file", "Cleaning up intermediate files"},
}

// YTDLPParser classifies yt-dlp console output. It keeps the reported
// progress non-decreasing: the tool re-prints lower percentages when it
// switches between video and audio streams, and a regressing progress bar
// is worse for clients than a briefly stale one.
type YTDLPParser struct {
	stdoutRest  string
	stderrRest  string
	maxProgress float64
}

// NewYTDLPParser creates a parser for one job's output
func NewYTDLPParser() *YTDLPParser {
	return &YTDLPParser{}
}

// ParseStdout classifies a chunk read from yt-dlp stdout
func (p *YTDLPParser) ParseStdout(chunk []byte) []Event {
	lines, rest := splitLines(p.stdoutRest + string(chunk))
	p.stdoutRest = rest

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if event, ok := p.classify(line); ok {
			events = append(events, event)
		}
	}
	return events
}

// ParseStderr classifies a chunk read from yt-dlp stderr. Every complete
// stderr line becomes an error event.
func (p *YTDLPParser) ParseStderr(chunk []byte) []Event {
	lines, rest := splitLines(p.stderrRest + string(chunk))
	p.stderrRest = rest

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		events = append(events, Event{Kind: model.EventError, Message: line})
	}
	return events
}

// Flush emits whatever partial lines remain once both streams are closed
func (p *YTDLPParser) Flush() []Event {
	var events []Event
	if line := strings.TrimSpace(p.stdoutRest); line != "" {
		if event, ok := p.classify(line); ok {
			events = append(events, event)
		}
	}
	if line := strings.TrimSpace(p.stderrRest); line != "" {
		events = append(events, Event{Kind: model.EventError, Message: line})
	}
	p.stdoutRest = ""
	p.stderrRest = ""
	return events
}

// classify applies the ordered heuristics: percentage first, then milestone
// markers, then plain info. Empty lines are dropped.
func (p *YTDLPParser) classify(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if match := percentPattern.FindStringSubmatch(line); match != nil {
		value, err := strconv.ParseFloat(match[1], 64)
		if err == nil && value >= MinProgress && value <= MaxProgress {
			if value < p.maxProgress {
				value = p.maxProgress
			} else {
				p.maxProgress = value
			}
			return Event{Kind: model.EventProgress, Message: line, Progress: value}, true
		}
	}

	for _, m := range milestoneMarkers {
		if strings.Contains(line, m.Marker) {
			return Event{Kind: model.EventMilestone, Message: m.Message}, true
		}
	}

	return Event{Kind: model.EventInfo, Message: line}, true
}

// splitLines cuts the accumulated buffer into complete lines, returning the
// trailing partial line. yt-dlp redraws its progress bar with carriage
// returns, so \r is treated as a line terminator too.
func splitLines(buf string) ([]string, string) {
	normalized := strings.ReplaceAll(buf, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	idx := strings.LastIndexByte(normalized, '\n')
	if idx < 0 {
		return nil, normalized
	}

	complete := normalized[:idx]
	rest := normalized[idx+1:]
	if complete == "" {
		return nil, rest
	}
	return strings.Split(complete, "\n"), rest
}
