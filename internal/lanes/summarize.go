package lanes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

const summarizeSystemPrompt = "You are a context compressor. Your job is to summarize conversation " +
	"history so an AI agent keeps working memory without the full transcript."

// summarizeTimeout bounds one background summarization call.
const summarizeTimeout = 60 * time.Second

// summarizeLane collapses the oldest half of a lane into one synthetic
// summary message. Runs on its own goroutine; the lane stays usable while the
// summary is being produced, and the splice happens under the lane lock only
// after the LLM call returns.
func (m *Manager) summarizeLane(st *laneState) {
	defer m.wg.Done()

	st.mu.Lock()
	lane := st.lane
	n := len(lane.Messages) / 2
	if n < 2 {
		st.summarizing = false
		st.mu.Unlock()
		return
	}
	oldest := make([]types.Message, n)
	copy(oldest, lane.Messages[:n])
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	summary, err := m.compress(ctx, oldest)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.summarizing = false

	if err != nil {
		logging.LanesWarn("Lane %s summarization failed: %v", lane.LaneID, err)
		return
	}

	// The lane may have grown while summarizing; only the snapshot prefix is
	// replaced. A prefix mismatch means the lane was mutated elsewhere; skip.
	if len(lane.Messages) < n {
		return
	}
	synthetic := types.Message{
		Role:    "system",
		Content: "[Summary of earlier conversation]\n" + summary,
	}
	rest := lane.Messages[n:]
	newMessages := make([]types.Message, 0, len(rest)+1)
	newMessages = append(newMessages, synthetic)
	newMessages = append(newMessages, rest...)

	lane.Messages = newMessages
	lane.Bytes = 0
	for _, msg := range lane.Messages {
		lane.Bytes += len(msg.Content)
	}

	if !lane.Ephemeral && m.store != nil {
		if err := m.store.ReplaceLane(lane.LaneID, lane.Messages); err != nil {
			logging.LanesWarn("Lane %s: failed to persist summarized state: %v", lane.LaneID, err)
		}
	}
	logging.Lanes("Lane %s summarized: %d messages collapsed, now %d bytes", lane.LaneID, n, lane.Bytes)
}

// compress summarizes messages via the summarizer client, capped at the
// configured target token budget.
func (m *Manager) compress(ctx context.Context, messages []types.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range messages {
		role := "Assistant"
		if msg.Role == "user" {
			role = "User"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", role, msg.Content))
	}

	target := m.config.Summarize.TargetTokens
	if target <= 0 {
		target = 1024
	}

	prompt := fmt.Sprintf(`Summarize the following conversation history into a concise context string.
Retain key decisions, facts, plan details, and the current state of the task.
Discard redundant clarifications. Keep the summary under %d tokens.

Conversation:
%s

Summary:`, target, sb.String())

	summary, err := m.summarizer.CompleteWithSystem(ctx, summarizeSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("lane summarization failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
