package tagparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
)

func userMsg(text string) chatapi.Message {
	return chatapi.Message{Role: chatapi.RoleUser, Content: text}
}

func TestParsePureLLMTag(t *testing.T) {
	res, err := Parse([]chatapi.Message{userMsg("[[pure_llm]] hello")})
	require.NoError(t, err)
	assert.Equal(t, HintPureLLM, res.Hint)
	assert.Equal(t, "hello", res.StrippedMessages[0].Text())
}

func TestParseCaseInsensitive(t *testing.T) {
	res, err := Parse([]chatapi.Message{userMsg("[[RESEARCH_REQUEST]] explain raft")})
	require.NoError(t, err)
	assert.Equal(t, HintResearchRequest, res.Hint)
	assert.Equal(t, "explain raft", res.StrippedMessages[0].Text())
}

func TestParseNoTag(t *testing.T) {
	res, err := Parse([]chatapi.Message{userMsg("just a question")})
	require.NoError(t, err)
	assert.Equal(t, HintNone, res.Hint)
}

func TestParseOnlyLastUserMessageConsidered(t *testing.T) {
	res, err := Parse([]chatapi.Message{
		userMsg("[[research_deeply]] earlier turn"),
		{Role: chatapi.RoleAssistant, Content: "ok"},
		userMsg("[[autonomous]] latest turn"),
	})
	require.NoError(t, err)
	assert.Equal(t, HintAutonomous, res.Hint)
	assert.Equal(t, "latest turn", res.StrippedMessages[2].Text())
	assert.Equal(t, "earlier turn", res.StrippedMessages[0].Text(), "earlier tags are left alone")
}

func TestParseIDEMarkerForcesPureLLM(t *testing.T) {
	res, err := Parse([]chatapi.Message{
		{Role: chatapi.RoleSystem, Content: "You are an AI programming assistant."},
		userMsg("[[research_deeply]] explain this function"),
	})
	require.NoError(t, err)
	assert.Equal(t, HintForcedPureLLM, res.Hint)
}

func TestParseMultimodalForcesPureLLM(t *testing.T) {
	res, err := Parse([]chatapi.Message{
		{
			Role: chatapi.RoleUser,
			Parts: []chatapi.ContentPart{
				{Type: "text", Text: "[[research_request]] hi"},
				{Type: "image_url", ImageURL: &chatapi.ImageURL{URL: "https://example.com/x.png"}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, HintForcedPureLLM, res.Hint)
	assert.Equal(t, "hi", res.StrippedMessages[0].Text(), "tag is still stripped even though ignored")
}

func TestParseUnbalancedBracketsIsMalformed(t *testing.T) {
	_, err := Parse([]chatapi.Message{userMsg("[[research_request] oops")})
	require.Error(t, err)
}

func TestParseTrailingExtraBracketIsMalformed(t *testing.T) {
	_, err := Parse([]chatapi.Message{userMsg("[[autonomous_plus]]] oops")})
	require.Error(t, err)
}

func TestParseIdempotentStrip(t *testing.T) {
	first, err := Parse([]chatapi.Message{userMsg("[[autonomous_plus]] tell me about bar")})
	require.NoError(t, err)

	second, err := Parse(first.StrippedMessages)
	require.NoError(t, err)

	assert.Equal(t, HintNone, second.Hint)
	assert.Equal(t, first.StrippedMessages, second.StrippedMessages)
}
