package generator

import (
	"math/rand"
	"strings"
	"unicode/utf8"
)

// Chunk splits doc into consecutive pieces of at most size bytes.
func Chunk(doc string, size int) []string {
	if size <= 0 || doc == "" {
		return nil
	}
	chunks := make([]string, 0, len(doc)/size+1)
	for start := 0; start < len(doc); {
		end := min(start+size, len(doc))
		for end < len(doc) && end > start+1 && !utf8.RuneStart(doc[end]) {
			end--
		}
		chunks = append(chunks, doc[start:end])
		start = end
	}
	return chunks
}

// SampleChunks picks up to count chunks uniformly at random, without replacement, keeping
// document order so the excerpts read naturally.
func SampleChunks(rng *rand.Rand, doc string, size, count int) []string {
	chunks := Chunk(doc, size)
	if count <= 0 || len(chunks) <= count {
		return chunks
	}
	picked := rng.Perm(len(chunks))[:count]
	keep := make([]bool, len(chunks))
	for _, idx := range picked {
		keep[idx] = true
	}
	out := make([]string, 0, count)
	for i, c := range chunks {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// CropFenced returns the body of the first fenced code block in reply.
// A reply without a fence is returned whole; an unterminated fence runs to the end of the reply.
func CropFenced(reply string) string {
	const fence = "```"
	start := strings.Index(reply, fence)
	if start < 0 {
		return strings.TrimSpace(reply)
	}
	body := reply[start+len(fence):]
	// Skip the info string (e.g. "yaml") on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimRight(body, " \t\n") + "\n"
}
