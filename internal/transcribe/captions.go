package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// EngineOutput is a whisper.cpp --output-json-full document. Segments are
// kept raw so one bad segment can be skipped without rejecting the rest.
type EngineOutput struct {
	Language string
	Segments []json.RawMessage
}

type engineSegment struct {
	Text       string `json:"text"`
	Timestamps struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"timestamps"`
	// nil when the key is absent or null; an empty array stays non-nil.
	Tokens []json.RawMessage `json:"tokens"`
}

type engineToken struct {
	Text    string `json:"text"`
	Offsets struct {
		From float64 `json:"from"`
		To   float64 `json:"to"`
	} `json:"offsets"`
	P float64 `json:"p"`
}

// ParseEngineOutput decodes the engine's JSON artifact. It fails only when
// the document itself is unusable; a missing "transcription" member yields
// an empty output.
func ParseEngineOutput(data []byte) (*EngineOutput, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode engine output: %w", err)
	}
	if doc == nil {
		return nil, errors.New("decode engine output: document is null")
	}

	out := &EngineOutput{}
	if raw, ok := doc["transcription"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Segments); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
	}

	if raw, ok := doc["result"]; ok {
		var result struct {
			Language string `json:"language"`
		}
		if json.Unmarshal(raw, &result) == nil {
			out.Language = result.Language
		}
	}
	return out, nil
}

// ExtractCaptions turns engine segments into captions in engine order.
// In word mode a segment's tokens are used when the segment has a token list;
// otherwise the segment itself becomes one caption.
func ExtractCaptions(out *EngineOutput, g Granularity) []Caption {
	if out == nil {
		return nil
	}
	captions := make([]Caption, 0, len(out.Segments))
	for _, raw := range out.Segments {
		var seg engineSegment
		if err := json.Unmarshal(raw, &seg); err != nil {
			continue
		}
		if g == GranularityWord && seg.Tokens != nil {
			captions = appendTokens(captions, seg.Tokens)
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		captions = append(captions, Caption{
			Text:       text,
			StartMs:    ParseTimecode(seg.Timestamps.From),
			EndMs:      ParseTimecode(seg.Timestamps.To),
			Confidence: 1.0,
		})
	}
	return captions
}

func appendTokens(captions []Caption, tokens []json.RawMessage) []Caption {
	for _, raw := range tokens {
		var tok engineToken
		if err := json.Unmarshal(raw, &tok); err != nil {
			continue
		}
		text := strings.TrimSpace(tok.Text)
		// [_BEG_], [BLANK_AUDIO] and friends are engine markup, not speech.
		if text == "" || strings.HasPrefix(text, "[") {
			continue
		}
		captions = append(captions, Caption{
			Text:       text,
			StartMs:    nonNegative(tok.Offsets.From),
			EndMs:      nonNegative(tok.Offsets.To),
			Confidence: clamp01(tok.P),
		})
	}
	return captions
}

// FullText joins caption texts with single spaces.
func FullText(captions []Caption) string {
	texts := make([]string, len(captions))
	for i, c := range captions {
		texts[i] = c.Text
	}
	return strings.Join(texts, " ")
}

// nonNegative converts an engine offset to milliseconds. Negative, NaN and
// out-of-range values become 0.
func nonNegative(v float64) int64 {
	if !(v > 0) || v >= math.MaxInt64 {
		return 0
	}
	return int64(v)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
