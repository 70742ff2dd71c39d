// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tagparser implements the Tag Parser (C2): it scans the last user
// message for a recognized routing tag, detects the IDE-integration marker
// and multimodal content across the whole request, and strips the matched
// tag before any downstream use.
package tagparser

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
)

// ModeHint is the routing signal the Tag Parser extracts from a request,
// before the Mode Router applies heuristics and defaults on top of it.
type ModeHint string

const (
	// HintNone means no tag, IDE marker, or multimodal content was found;
	// the Mode Router falls through to its heuristic classifier / default.
	HintNone ModeHint = ""

	HintPureLLM          ModeHint = "pure_llm"
	HintResearchRequest  ModeHint = "research_request"
	HintResearchDeeply   ModeHint = "research_deeply"
	HintAutonomous       ModeHint = "autonomous"
	HintAutonomousPlus   ModeHint = "autonomous_plus"

	// HintForcedPureLLM is distinct from HintPureLLM: it is set by the IDE
	// marker or multimodal detection, which override even an explicit tag.
	HintForcedPureLLM ModeHint = "forced_pure_llm"
)

// tagTokens maps each recognized bracketed token (lower-cased) to its hint.
var tagTokens = map[string]ModeHint{
	"[[pure_llm]]":         HintPureLLM,
	"[[research_request]]": HintResearchRequest,
	"[[research_deeply]]":  HintResearchDeeply,
	"[[autonomous]]":       HintAutonomous,
	"[[autonomous_plus]]":  HintAutonomousPlus,
}

// ideMarker is the well-known opening phrase on assistant/system content
// that signals an IDE-integration client; presence forces PureLLM.
const ideMarker = "you are an ai programming assistant"

// Result is the Tag Parser's output: the extracted hint and the message
// list with the matched tag removed from the last user message.
type Result struct {
	Hint             ModeHint
	StrippedMessages []chatapi.Message
	MatchedTag       string
}

// Parse scans messages per spec section 4.1 and returns a Result. It
// returns a MalformedRequest GatewayError if the last user message contains
// an unbalanced bracket pair within the recognized token range (e.g.
// "[[research_request]" or "[[autonomous_plus]]]").
func Parse(messages []chatapi.Message) (Result, error) {
	stripped := make([]chatapi.Message, len(messages))
	copy(stripped, messages)

	if detectIDEMarker(messages) {
		return Result{Hint: HintForcedPureLLM, StrippedMessages: stripped}, nil
	}

	if detectMultimodal(messages) {
		idx := lastUserIndex(stripped)
		if idx >= 0 {
			if tag, ok := findTag(stripped[idx].Text()); ok {
				stripped[idx] = stripMessageTag(stripped[idx], tag)
			}
		}
		return Result{Hint: HintForcedPureLLM, StrippedMessages: stripped}, nil
	}

	idx := lastUserIndex(stripped)
	if idx < 0 {
		return Result{Hint: HintNone, StrippedMessages: stripped}, nil
	}

	text := stripped[idx].Text()
	if err := checkBalancedBrackets(text); err != nil {
		return Result{}, err
	}

	tag, ok := findTag(text)
	if !ok {
		return Result{Hint: HintNone, StrippedMessages: stripped}, nil
	}

	stripped[idx] = stripMessageTag(stripped[idx], tag)
	return Result{Hint: tagTokens[tag], StrippedMessages: stripped, MatchedTag: tag}, nil
}

func lastUserIndex(messages []chatapi.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatapi.RoleUser {
			return i
		}
	}
	return -1
}

func detectIDEMarker(messages []chatapi.Message) bool {
	for _, m := range messages {
		if m.Role != chatapi.RoleSystem && m.Role != chatapi.RoleAssistant {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(m.Text())), ideMarker) {
			return true
		}
	}
	return false
}

func detectMultimodal(messages []chatapi.Message) bool {
	for _, m := range messages {
		if m.IsMultimodal() {
			return true
		}
	}
	return false
}

func findTag(text string) (string, bool) {
	lower := strings.ToLower(text)
	for token := range tagTokens {
		if strings.Contains(lower, token) {
			return token, true
		}
	}
	return "", false
}

// stripMessageTag removes the first case-insensitive occurrence of tag from
// the message's text content, trimming the resulting whitespace.
func stripMessageTag(m chatapi.Message, tag string) chatapi.Message {
	if m.Parts != nil {
		for i, p := range m.Parts {
			if p.Type == "text" {
				m.Parts[i].Text = removeTagCI(p.Text, tag)
			}
		}
		return m
	}
	m.Content = removeTagCI(m.Content, tag)
	return m
}

func removeTagCI(text, tag string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, tag)
	if idx < 0 {
		return text
	}
	out := text[:idx] + text[idx+len(tag):]
	return strings.TrimSpace(out)
}

// checkBalancedBrackets rejects a last-user-message text that contains an
// opening "[[" without a matching "]]", or vice versa, anywhere a
// recognized-looking token begins — a malformed tag the model (or a
// careless client) truncated. Counts overlap so a trailing extra bracket
// like "[[autonomous_plus]]]" is caught: strings.Count would match "]]]"
// only once (non-overlapping), making it look balanced against one "[[".
func checkBalancedBrackets(text string) error {
	numOpen := countOverlapping(text, "[[")
	numClose := countOverlapping(text, "]]")
	if numOpen != numClose {
		return gwerrors.New(gwerrors.MalformedRequest,
			fmt.Sprintf("unbalanced routing tag brackets: %d '[[' vs %d ']]'", numOpen, numClose))
	}
	return nil
}

// countOverlapping counts occurrences of substr in s, including overlapping
// ones (unlike strings.Count, which advances past each match).
func countOverlapping(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
