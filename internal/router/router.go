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

// Package router implements the Mode Router (C3): it maps a Tag Parser
// result plus an optional heuristic classifier signal onto one immutable
// RoutingDecision, per spec section 4.2's ordered rule list.
package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/tagparser"
)

// Mode is the execution strategy chosen for a request. A request belongs
// to exactly one Mode for its full lifetime (spec section 3).
type Mode string

const (
	ModePureLLM         Mode = "pure_llm"
	ModeStandardResearch Mode = "standard_research"
	ModeDeepResearch    Mode = "deep_research"
	ModeAutonomous      Mode = "autonomous"
	ModeAutonomousPlus  Mode = "autonomous_plus"
)

// RoutingDecision is the Mode Router's immutable output (spec section 3).
type RoutingDecision struct {
	Mode             Mode
	StrippedMessages []chatapi.Message
	Reason           string
}

// ClassifierVerdict is what a heuristic intent Classifier returns: one of
// StandardResearch, DeepResearch, or PureLLM, with a confidence in [0,1].
type ClassifierVerdict struct {
	Mode       Mode
	Confidence float64
}

// Classifier is the optional heuristic intent classifier (spec section
// 4.2 step 4). A nil Classifier is valid: the router then falls straight
// to its default.
type Classifier interface {
	Classify(ctx context.Context, lastUserMessage string) (ClassifierVerdict, error)
}

// depthModifiers are words that, found in the last user message, upgrade a
// heuristic StandardResearch verdict to DeepResearch (spec section 4.2).
var depthModifiers = []string{
	"thoroughly", "carefully", "comprehensive", "comprehensively",
	"deep", "deeply", "detailed", "extensive", "extensively", "all",
}

// Router holds the configured confidence threshold and optional classifier.
type Router struct {
	ConfidenceThreshold float64
	Classifier          Classifier
}

// New constructs a Router. A zero-value Classifier is fine; Route then
// never reaches step 4 of the applied rule list.
func New(confidenceThreshold float64, classifier Classifier) *Router {
	return &Router{ConfidenceThreshold: confidenceThreshold, Classifier: classifier}
}

// Route applies the ordered rule list of spec section 4.2 to a Tag Parser
// Result and returns the resulting RoutingDecision. ctx bounds the optional
// classifier call only; everything else is synchronous.
func (r *Router) Route(ctx context.Context, tagResult tagparser.Result) RoutingDecision {
	switch tagResult.Hint {
	case tagparser.HintForcedPureLLM:
		return RoutingDecision{
			Mode:             ModePureLLM,
			StrippedMessages: tagResult.StrippedMessages,
			Reason:           "ide marker or multimodal content forces pure_llm",
		}
	case tagparser.HintPureLLM:
		return r.decide(ModePureLLM, tagResult, "explicit [[pure_llm]] tag")
	case tagparser.HintResearchRequest:
		return r.decide(ModeStandardResearch, tagResult, "explicit [[research_request]] tag")
	case tagparser.HintResearchDeeply:
		return r.decide(ModeDeepResearch, tagResult, "explicit [[research_deeply]] tag")
	case tagparser.HintAutonomous:
		return r.decide(ModeAutonomous, tagResult, "explicit [[autonomous]] tag")
	case tagparser.HintAutonomousPlus:
		return r.decide(ModeAutonomousPlus, tagResult, "explicit [[autonomous_plus]] tag")
	}

	return r.classifyOrDefault(ctx, tagResult)
}

func (r *Router) decide(mode Mode, tagResult tagparser.Result, reason string) RoutingDecision {
	return RoutingDecision{Mode: mode, StrippedMessages: tagResult.StrippedMessages, Reason: reason}
}

func (r *Router) classifyOrDefault(ctx context.Context, tagResult tagparser.Result) RoutingDecision {
	if r.Classifier == nil {
		return RoutingDecision{
			Mode:             ModePureLLM,
			StrippedMessages: tagResult.StrippedMessages,
			Reason:           "no tag and no classifier configured; default to pure_llm",
		}
	}

	lastUser := lastUserText(tagResult.StrippedMessages)
	verdict, err := r.Classifier.Classify(ctx, lastUser)
	if err != nil || verdict.Confidence < r.ConfidenceThreshold {
		return RoutingDecision{
			Mode:             ModePureLLM,
			StrippedMessages: tagResult.StrippedMessages,
			Reason:           "classifier absent, errored, or below confidence threshold; default to pure_llm",
		}
	}

	mode := verdict.Mode
	if mode == ModeStandardResearch && hasDepthModifier(lastUser) {
		mode = ModeDeepResearch
	}

	return RoutingDecision{
		Mode:             mode,
		StrippedMessages: tagResult.StrippedMessages,
		Reason:           "heuristic classifier verdict accepted above confidence threshold",
	}
}

func lastUserText(messages []chatapi.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatapi.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

func hasDepthModifier(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		for _, word := range depthModifiers {
			if w == word {
				return true
			}
		}
	}
	return false
}
