package summary

import (
	"regexp"
	"strings"
	"unicode"
)

const maxKeyLength = 256

// speakerTag matches a leading "Name:" label on a transcript line.
var speakerTag = regexp.MustCompile(`^[\p{L}\p{N} _.\-]{1,32}:\s*`)

// prepared is a validated request ready for the pipeline.
type prepared struct {
	key        string
	transcript string
	lines      int
	force      bool
}

// DeriveKey canonicalizes a caller-supplied conversation id.
func DeriveKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", invalidRequest("conversationKey is required")
	}
	if len(key) > maxKeyLength {
		return "", invalidRequest("conversationKey exceeds %d bytes", maxKeyLength)
	}
	for _, r := range key {
		if r == '/' || unicode.IsControl(r) {
			return "", invalidRequest("conversationKey contains %q", r)
		}
	}
	return key, nil
}

func prepare(req Request) (prepared, error) {
	key, err := DeriveKey(req.ConversationKey)
	if err != nil {
		return prepared{}, err
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return prepared{}, invalidRequest("transcript is required")
	}
	lines := substantiveLines(req.Transcript)
	return prepared{
		key:        key,
		transcript: strings.Join(lines, "\n"),
		lines:      len(lines),
		force:      req.ForceRegenerate,
	}, nil
}

// substantiveLines drops blank lines and lines holding only a speaker label.
func substantiveLines(transcript string) []string {
	var out []string
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if loc := speakerTag.FindStringIndex(line); loc != nil && strings.TrimSpace(line[loc[1]:]) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
