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

// Package research implements the Research Orchestrator (C6): an
// N-iteration loop that seeds a web search, then per iteration generates a
// focused query, searches the knowledge base and the web, crawls candidate
// URLs, and finally synthesizes a single assistant reply from the entire
// accumulated context (spec section 4.5). No teacher file runs this shape
// of loop; it is built in the teacher's general style of a bounded
// iteration driven by an LM call per step, as seen in
// pkg/reasoning's turn-taking strategies, generalized to this domain.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/orchestration-gateway/internal/cancelwatch"
	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/crawlclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/retrievalclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/searchclient"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/llmbackend"
	"github.com/kadirpekel/orchestration-gateway/internal/sseemit"
)

// focusByIteration names each iteration's declared research focus (spec
// section 4.5 step 2). Iteration counts beyond len(focusByIteration) never
// occur: N is always 2 or 4 (degraded retries only ever shrink N).
var focusByIteration = []string{
	"main concepts",
	"practical implementation",
	"advanced features",
	"ecosystem and alternatives",
}

// duplicateQuerySimilarity is the Jaccard-similarity threshold at or above which
// a freshly generated query is rejected as a near-duplicate of one already
// issued this run (spec section 4.5 step 2).
const duplicateQuerySimilarity = 0.7

// Config tunes the orchestrator's fan-out at each step. Defaults match
// spec section 4.5's stated ranges.
type Config struct {
	SeedTopK      int // initial unconditional web search, default 10
	KBTopK        int // knowledge-base search per iteration, 3..6, default 5
	URLCandidates int // candidate URLs requested per iteration, default 3
	WebTopK       int // per-iteration web search, default 5
	EmbedModel    string
}

func (c Config) withDefaults() Config {
	if c.SeedTopK == 0 {
		c.SeedTopK = 10
	}
	if c.KBTopK == 0 {
		c.KBTopK = 5
	}
	if c.URLCandidates == 0 {
		c.URLCandidates = 3
	}
	if c.WebTopK == 0 {
		c.WebTopK = 5
	}
	return c
}

// Clients bundles the orchestrator's four collaborators.
type Clients struct {
	LLM       *llmbackend.Client
	Search    *searchclient.Client
	Retrieval *retrievalclient.Client
	Crawl     *crawlclient.Client
}

// Orchestrator drives one research request end to end.
type Orchestrator struct {
	cfg     Config
	clients Clients
}

// New builds an Orchestrator.
func New(cfg Config, clients Clients) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults(), clients: clients}
}

// taggedResult is one entry in the append-only accumulated context buffer,
// tagged by source for the synthesis prompt (spec section 4.5: "Results
// are tagged by source ([kb], [crawl url], [web])").
type taggedResult struct {
	tag  string
	text string
}

func (t taggedResult) render() string {
	return fmt.Sprintf("[%s] %s", t.tag, t.text)
}

// Run executes the full research protocol, streaming status and content
// events to emitter, and returns once the synthesized reply has been
// streamed and terminated. model is the backend model name to use for
// every internal LM call as well as the final synthesis.
func (o *Orchestrator) Run(ctx context.Context, emitter *sseemit.Emitter, model string, messages []chatapi.Message, n int) error {
	userQuery := lastUserText(messages)

	var ctxBuf []taggedResult
	ctxBuf = append(ctxBuf, tagAll("web", o.clients.Search.Search(ctx, userQuery, o.cfg.SeedTopK))...)

	overflowRetried := false
	var issued []string
	for {
		if cancelwatch.Cancelled(ctx) {
			return nil
		}

		appended, issuedQueries, overflow := o.runIterations(ctx, emitter, model, userQuery, n, ctxBuf, issued)
		ctxBuf = append(ctxBuf, appended...)
		issued = issuedQueries

		if overflow == nil {
			break
		}
		if !gwerrors.IsKind(overflow, gwerrors.ContextLengthExceeded) {
			return overflow
		}
		if overflowRetried {
			ctxBuf = truncateFromStart(ctxBuf, len(ctxBuf)/2)
			break
		}
		overflowRetried = true
		n = max2(2, n-2)
		emitter.EmitJSON(chatapi.NewStatusEvent("context overflow; restarting with fewer iterations", false, false))
	}

	if cancelwatch.Cancelled(ctx) {
		return nil
	}

	emitter.EmitJSON(chatapi.NewStatusEvent("done", true, true))
	return o.synthesize(ctx, emitter, model, userQuery, ctxBuf)
}

// runIterations executes iterations 0..n-1 of the protocol, returning the
// newly accumulated results, the queries issued so far (prior plus this
// call's, for duplicate tracking across a restart), and a non-nil error
// only when an LM call along the way returned ContextLengthExceeded.
func (o *Orchestrator) runIterations(ctx context.Context, emitter *sseemit.Emitter, model, userQuery string, n int, existing []taggedResult, prior []string) ([]taggedResult, []string, error) {
	var appended []taggedResult
	issuedQueries := append([]string(nil), prior...)
	var crawledURLs []string

	contextSoFar := func() []taggedResult {
		return append(append([]taggedResult{}, existing...), appended...)
	}

	for i := 0; i < n; i++ {
		if cancelwatch.Cancelled(ctx) {
			return appended, issuedQueries, nil
		}

		focus := focusByIteration[i%len(focusByIteration)]

		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("Turn %d — generating search query", i+1), false, false))
		query, err := o.generateQuery(ctx, model, focus, userQuery, contextSoFar(), issuedQueries)
		if err != nil {
			if gwerrors.IsKind(err, gwerrors.ContextLengthExceeded) {
				return appended, issuedQueries, err
			}
			continue
		}
		issuedQueries = append(issuedQueries, query)

		if cancelwatch.Cancelled(ctx) {
			return appended, issuedQueries, nil
		}

		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("Turn %d — knowledge-base search", i+1), false, false))
		if vec, err := o.clients.LLM.Embed(ctx, o.cfg.EmbedModel, query); err == nil {
			kbResults := o.clients.Retrieval.Search(ctx, vec, o.cfg.KBTopK)
			appended = append(appended, tagAll("kb", adaptKBResults(kbResults))...)
		}

		if cancelwatch.Cancelled(ctx) {
			return appended, issuedQueries, nil
		}

		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("Turn %d — generating URLs", i+1), false, false))
		urls, err := o.generateURLs(ctx, model, contextSoFar(), crawledURLs)
		if err != nil && gwerrors.IsKind(err, gwerrors.ContextLengthExceeded) {
			return appended, issuedQueries, err
		}

		if cancelwatch.Cancelled(ctx) {
			return appended, issuedQueries, nil
		}

		if len(urls) > 0 {
			emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("Turn %d — crawling", i+1), false, false))
			crawled := o.clients.Crawl.FetchAll(ctx, urls)
			for _, c := range crawled {
				crawledURLs = append(crawledURLs, c.URL)
				appended = append(appended, taggedResult{tag: "crawl " + c.URL, text: c.Markdown})
			}
		}

		if cancelwatch.Cancelled(ctx) {
			return appended, issuedQueries, nil
		}

		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("Turn %d — web search", i+1), false, false))
		webResults := o.clients.Search.Search(ctx, query, o.cfg.WebTopK)
		appended = append(appended, tagAll("web", webResults)...)
	}

	return appended, issuedQueries, nil
}

// generateQuery asks the LM for a focused query, rejecting one near-
// duplicate of a previously issued query and retrying exactly once before
// accepting whatever comes back (spec section 4.5 step 2).
func (o *Orchestrator) generateQuery(ctx context.Context, model, focus, userQuery string, accContext []taggedResult, issued []string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate one focused web search query for the research focus %q on the topic: %s\n\nAccumulated context so far:\n%s",
		focus, userQuery, renderContext(accContext),
	)

	query, err := o.completeText(ctx, model, prompt)
	if err != nil {
		return "", err
	}

	if isDuplicateQuery(query, issued) {
		query, err = o.completeText(ctx, model, prompt+"\n\nThe previous attempt was too similar to an earlier query; produce a distinctly different one.")
		if err != nil {
			return "", err
		}
	}

	return query, nil
}

// generateURLs asks the LM for candidate URLs, deduplicating against
// already-crawled ones (spec section 4.5 step 4).
func (o *Orchestrator) generateURLs(ctx context.Context, model string, accContext []taggedResult, alreadyCrawled []string) ([]string, error) {
	prompt := fmt.Sprintf(
		"List %d candidate URLs worth crawling for more detail, one per line, based on this context:\n%s",
		o.cfg.URLCandidates, renderContext(accContext),
	)

	text, err := o.completeText(ctx, model, prompt)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(alreadyCrawled))
	for _, u := range alreadyCrawled {
		seen[u] = true
	}

	var urls []string
	for _, line := range strings.Split(text, "\n") {
		u := strings.TrimSpace(line)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) >= o.cfg.URLCandidates {
			break
		}
	}
	return urls, nil
}

// synthesize issues the final LM call over the original query and the
// entire accumulated context, streaming its output as ContentDelta events.
func (o *Orchestrator) synthesize(ctx context.Context, emitter *sseemit.Emitter, model, userQuery string, accContext []taggedResult) error {
	prompt := fmt.Sprintf(
		"Answer the user's question using the research gathered below. Question: %s\n\nResearch context:\n%s",
		userQuery, renderContext(accContext),
	)

	events, err := o.clients.LLM.CompleteStream(ctx, chatapi.ChatRequest{
		Model:    model,
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return err
	}

	for ev := range events {
		if cancelwatch.Cancelled(ctx) {
			return nil
		}
		if ev.Err != nil {
			return ev.Err
		}
		if ev.Chunk != nil {
			emitter.EmitJSON(ev.Chunk)
		}
	}

	return emitter.EmitTerminator()
}

func (o *Orchestrator) completeText(ctx context.Context, model, prompt string) (string, error) {
	resp, err := o.clients.LLM.Complete(ctx, chatapi.ChatRequest{
		Model:    model,
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Text()), nil
}

func lastUserText(messages []chatapi.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatapi.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}

func tagAll(tag string, results []searchclient.Result) []taggedResult {
	out := make([]taggedResult, 0, len(results))
	for _, r := range results {
		out = append(out, taggedResult{tag: tag, text: fmt.Sprintf("%s — %s (%s)", r.Title, r.Snippet, r.URL)})
	}
	return out
}

func adaptKBResults(results []retrievalclient.Result) []searchclient.Result {
	out := make([]searchclient.Result, 0, len(results))
	for _, r := range results {
		out = append(out, searchclient.Result{Title: r.ID, Snippet: r.Content})
	}
	return out
}

func renderContext(results []taggedResult) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.render())
		b.WriteString("\n")
	}
	return b.String()
}

// truncateFromStart drops whole entries from the front of results until at
// most keep remain, preserving whole-result boundaries (spec section 4.5:
// "truncating from the start by whole-result boundaries").
func truncateFromStart(results []taggedResult, keep int) []taggedResult {
	if keep >= len(results) {
		return results
	}
	if keep < 0 {
		keep = 0
	}
	return append([]taggedResult{}, results[len(results)-keep:]...)
}

// isDuplicateQuery reports whether query is a near-duplicate (Jaccard
// similarity >= duplicateQuerySimilarity) of any query already issued.
func isDuplicateQuery(query string, issued []string) bool {
	for _, prior := range issued {
		if jaccardSimilarity(query, prior) >= duplicateQuerySimilarity {
			return true
		}
	}
	return false
}

// jaccardSimilarity computes the Jaccard index of the whitespace-tokenized,
// lower-cased word sets of a and b (SPEC_FULL section 12's supplemented
// duplicate-query metric — chosen over cosine similarity because it needs
// no embedding round-trip).
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}
