// Package streamparser extracts the first complete JSON or XML object from
// a stream of text chunks (SPEC_FULL.md §4.6), closing the upstream stream
// immediately on match when the caller asks for early termination.
package streamparser

import (
	"context"
	"encoding/json"
	"strings"
)

// Chunk is one unit off the wire. The parser tries each shape in turn: a
// test-fixture-style Content field, then OpenAI's
// choices[0].delta.content, then Anthropic's delta.text, then Google's
// text — the first shape to yield a non-empty string wins.
type Chunk struct {
	Content string
	Choices []ChunkChoice
	Delta   *ChunkDelta
	Text    string
}

type ChunkChoice struct {
	Delta ChunkDelta
}

type ChunkDelta struct {
	Content string
	Text    string
}

// chunkContent abstracts over the chunk shapes a provider exposes.
func chunkContent(c Chunk) string {
	if c.Content != "" {
		return c.Content
	}
	if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
		return c.Choices[0].Delta.Content
	}
	if c.Delta != nil && c.Delta.Text != "" {
		return c.Delta.Text
	}
	if c.Text != "" {
		return c.Text
	}
	return ""
}

// Stream is the minimal interface a chunk source must satisfy; Close is
// optional (guarded by a type assertion, mirroring the original's
// hasattr(stream, "close")).
type Stream interface {
	Next(ctx context.Context) (Chunk, bool, error)
}

// Closer is implemented by streams that support early termination.
type Closer interface {
	Close() error
}

// Result is the outcome of a Parse call.
type Result struct {
	TextBefore string // content preceding the extracted object
	Object     any    // parsed JSON (map[string]any or []any) or raw XML string; nil if not found
	Buffer     string // full buffer accumulated before the stream was closed
}

// Options configures a Parse call.
type Options struct {
	// CloseOnMatch closes the upstream stream immediately once a complete
	// object is found, discarding trailing content (token-cost optimization).
	CloseOnMatch bool
	// CheckInterval gates how often the buffer is re-scanned: every N chunks.
	CheckInterval int
}

// bufferParser is implemented by the two state machines below.
type bufferParser interface {
	parseBuffer(buffer string) (textBefore string, obj any)
}

// parse consumes stream, accumulating chunk content into a buffer. With
// CloseOnMatch set it re-scans the buffer every opts.CheckInterval chunks
// and, on a match, closes stream immediately (if Closer) and stops consuming
// further chunks; without it the whole stream is read and the buffer is
// scanned once at the end. A Closer stream is also closed on return.
func parse(ctx context.Context, stream Stream, p bufferParser, opts Options) (Result, error) {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 1
	}
	var buffer string
	chunkCount := 0

	closeStream := func() {
		if c, ok := stream.(Closer); ok {
			_ = c.Close()
		}
	}
	defer closeStream()

	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		if content := chunkContent(chunk); content != "" {
			buffer += content
			chunkCount++
		}
		if opts.CloseOnMatch && chunkCount%opts.CheckInterval == 0 {
			if _, obj := p.parseBuffer(buffer); obj != nil {
				closeStream()
				break
			}
		}
	}

	textBefore, obj := p.parseBuffer(buffer)
	return Result{TextBefore: textBefore, Object: obj, Buffer: buffer}, nil
}

// ParseJSON extracts the first complete JSON object or array from stream.
func ParseJSON(ctx context.Context, stream Stream, opts Options) (Result, error) {
	return parse(ctx, stream, jsonParser{}, opts)
}

// ParseXML extracts the first complete <tagName>...</tagName> element from
// stream.
func ParseXML(ctx context.Context, stream Stream, tagName string, opts Options) (Result, error) {
	return parse(ctx, stream, xmlParser{tagName: tagName}, opts)
}

// jsonParser implements the JSON depth/in_string/escaped state machine.
type jsonParser struct{}

func (jsonParser) parseBuffer(buffer string) (string, any) {
	scanHead := 0
	for scanHead < len(buffer) {
		startIndex := -1
		for i := scanHead; i < len(buffer); i++ {
			if buffer[i] == '{' || buffer[i] == '[' {
				startIndex = i
				break
			}
		}
		if startIndex == -1 {
			return buffer, nil
		}

		startChar := buffer[startIndex]
		endChar := byte('}')
		if startChar == '[' {
			endChar = ']'
		}

		depth := 1
		inString := false
		escaped := false
		falsePositive := false

		for i := startIndex + 1; i < len(buffer); i++ {
			ch := buffer[i]

			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = !inString
				continue
			}
			if !inString {
				switch ch {
				case startChar:
					depth++
				case endChar:
					depth--
				}
				if depth == 0 {
					candidate := buffer[startIndex : i+1]
					var parsed any
					if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
						return buffer[:startIndex], parsed
					}
					scanHead = startIndex + 1
					falsePositive = true
				}
			}
			if falsePositive {
				break
			}
		}
		if falsePositive {
			continue
		}
		// inner loop ended without depth returning to zero: incomplete.
		return buffer, nil
	}
	return buffer, nil
}

// xmlParser implements the tag-depth state machine for a configured tag name.
type xmlParser struct{ tagName string }

func (p xmlParser) parseBuffer(buffer string) (string, any) {
	startTag := "<" + p.tagName
	endTag := "</" + p.tagName + ">"

	startIndex := strings.Index(buffer, startTag)
	if startIndex == -1 {
		return buffer, nil
	}

	depth := 1
	scanHead := startIndex + len(startTag)
	for depth > 0 {
		nextStart := indexFrom(buffer, startTag, scanHead)
		nextEnd := indexFrom(buffer, endTag, scanHead)
		if nextEnd == -1 {
			return buffer, nil
		}
		if nextStart != -1 && nextStart < nextEnd {
			depth++
			scanHead = nextStart + len(startTag)
		} else {
			depth--
			scanHead = nextEnd + len(endTag)
		}
	}

	return buffer[:startIndex], buffer[startIndex:scanHead]
}

func indexFrom(s, substr string, from int) int {
	if from > len(s) {
		return -1
	}
	idx := strings.Index(s[from:], substr)
	if idx == -1 {
		return -1
	}
	return idx + from
}
