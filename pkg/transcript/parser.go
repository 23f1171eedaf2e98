package transcript

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// ParseError indicates that a transcript contains no usable cue at all.
// Individually malformed cues are skipped with a warning and never produce
// this error.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transcript parse failed: %s", e.Reason)
}

// Transcript is the parsed form of one VTT file: an ordered segment sequence
// plus whatever optional metadata preceded the cues.
type Transcript struct {
	Metadata common.TranscriptMetadata
	Segments []common.Segment
}

var (
	timingRe    = regexp.MustCompile(`^(\S+)\s+-->\s+(\S+)`)
	voiceTagRe  = regexp.MustCompile(`^<v(?:\.[^ >]*)?\s+([^>]+)>`)
	closeTagRe  = regexp.MustCompile(`</?[^>]+>`)
	speakerPrfx = regexp.MustCompile(`^([A-Z][A-Za-z0-9 .'\-]{0,40}):\s+`)
)

// Parse reads raw VTT content into ordered segments. An optional metadata
// block before the first cue (JSON or "Key: value" lines, plain or inside
// NOTE blocks) is extracted when present; its absence never changes the
// outcome of cue parsing. Malformed cues are skipped with a warning.
func Parse(content string) (*Transcript, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	segments := make([]common.Segment, 0)
	var headerLines []string
	seenCue := false
	skipped := 0

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(line, "NOTE") {
			rest := strings.TrimSpace(strings.TrimPrefix(line, "NOTE"))
			if rest != "" && !seenCue {
				headerLines = append(headerLines, rest)
			}
			for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
				i++
				if !seenCue {
					headerLines = append(headerLines, strings.TrimSpace(lines[i]))
				}
			}
			continue
		}

		timingLine := line
		if !strings.Contains(timingLine, "-->") {
			// Either a cue identifier directly followed by a timing line, or
			// free-form header text preceding the first cue.
			if i+1 < len(lines) && strings.Contains(lines[i+1], "-->") {
				i++
				timingLine = strings.TrimSpace(lines[i])
			} else {
				if !seenCue {
					headerLines = append(headerLines, line)
				}
				continue
			}
		}

		m := timingRe.FindStringSubmatch(timingLine)
		if m == nil {
			logger.Warn("[Parse] Skipping cue with malformed timing line", "line", timingLine)
			skipped++
			continue
		}

		start, errStart := parseTimestamp(m[1])
		end, errEnd := parseTimestamp(m[2])

		var textLines []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" && !strings.Contains(lines[i+1], "-->") {
			i++
			textLines = append(textLines, strings.TrimSpace(lines[i]))
		}

		if errStart != nil || errEnd != nil {
			logger.Warn("[Parse] Skipping cue with invalid timestamps", "start", m[1], "end", m[2])
			skipped++
			continue
		}

		seenCue = true
		text := strings.Join(textLines, " ")
		speaker, text := extractSpeaker(text)
		text = strings.TrimSpace(closeTagRe.ReplaceAllString(text, ""))
		if text == "" {
			continue
		}

		segments = append(segments, common.Segment{
			Start:   start,
			End:     end,
			Speaker: speaker,
			Text:    text,
		})
	}

	if len(segments) == 0 {
		return nil, &ParseError{Reason: "no valid cue found"}
	}
	if skipped > 0 {
		logger.Warn("[Parse] Malformed cues skipped", "count", skipped)
	}

	return &Transcript{
		Metadata: parseMetadata(headerLines),
		Segments: segments,
	}, nil
}

// Metadata extracts the optional metadata block without touching the cues.
// It never fails: a transcript with no header yields zero metadata. The
// pipeline derives the episode id from this before deciding whether cue
// parsing has to run at all.
func Metadata(content string) common.TranscriptMetadata {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	var headerLines []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Contains(line, "-->") {
			break
		}
		if strings.HasPrefix(line, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(line, "NOTE") {
			rest := strings.TrimSpace(strings.TrimPrefix(line, "NOTE"))
			if rest != "" {
				headerLines = append(headerLines, rest)
			}
			for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
				i++
				headerLines = append(headerLines, strings.TrimSpace(lines[i]))
			}
			continue
		}
		// A cue identifier directly before its timing line ends the header.
		if i+1 < len(lines) && strings.Contains(lines[i+1], "-->") {
			break
		}
		headerLines = append(headerLines, line)
	}

	return parseMetadata(headerLines)
}

// parseTimestamp converts "HH:MM:SS.mmm" or "MM:SS.mmm" into seconds.
// A comma decimal separator is accepted as well.
func parseTimestamp(value string) (float64, error) {
	value = strings.ReplaceAll(value, ",", ".")
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	total := 0.0
	for _, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		total = total*60 + n
	}
	return total, nil
}

// extractSpeaker pulls an inline speaker label off the cue text, either a VTT
// voice tag (<v Name>) or a leading "Name: " prefix. The label is left empty
// when neither form is present; identification fills it in later.
func extractSpeaker(text string) (string, string) {
	if m := voiceTagRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), text[len(m[0]):]
	}
	if m := speakerPrfx.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), text[len(m[0]):]
	}
	return "", text
}

func parseMetadata(headerLines []string) common.TranscriptMetadata {
	meta := common.TranscriptMetadata{}
	if len(headerLines) == 0 {
		return meta
	}

	joined := strings.Join(headerLines, "\n")
	if strings.HasPrefix(strings.TrimSpace(joined), "{") {
		var raw map[string]string
		if err := json.Unmarshal([]byte(joined), &raw); err == nil {
			for key, value := range raw {
				assignMetadataField(&meta, key, value)
			}
			return meta
		}
		logger.Warn("[Parse] Metadata block looks like JSON but failed to decode, falling back to key:value parsing")
	}

	for _, line := range headerLines {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		assignMetadataField(&meta, key, strings.TrimSpace(value))
	}
	return meta
}

func assignMetadataField(meta *common.TranscriptMetadata, key, value string) {
	if value == "" {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "youtube_url", "youtube":
		meta.YoutubeURL = value
	case "podcast_name", "podcast":
		meta.PodcastName = value
	case "episode_title", "title":
		meta.EpisodeTitle = value
	case "description":
		meta.Description = value
	}
}
