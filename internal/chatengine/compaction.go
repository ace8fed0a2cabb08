package chatengine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finger-kernel/kernel/internal/ledger"
	"github.com/finger-kernel/kernel/internal/protocol"
)

// initialContextTags are the blocks recognized as "already part of the
// prompt prefix" and therefore always preserved verbatim ahead of
// compaction, rather than folded into the narrative summary.
var initialContextTags = []string{
	"<developer_instructions>",
	"<user_instructions>",
	"<environment_context>",
	"<turn_context>",
	"<context_ledger_focus>",
}

func isInitialContextText(text string) bool {
	for _, tag := range initialContextTags {
		if strings.Contains(text, tag) {
			return true
		}
	}
	return false
}

const historySummaryTag = "history_summary"

func extractHistorySummaryBody(text string) (string, bool) {
	open := "<" + historySummaryTag + ">"
	closeTag := "</" + historySummaryTag + ">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(text[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(text[start : start+end]), true
}

// structuralKey renders v to a canonical JSON string for dedup-by-equality.
func structuralKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func extractTimestamp(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return "unknown"
	}
	for _, field := range []string{"timestamp_iso", "timestamp", "created_at", "time"} {
		if s, ok := obj[field].(string); ok && s != "" {
			return s
		}
	}
	for _, field := range []string{"timestamp_ms", "time_ms", "created_at_ms"} {
		if n, ok := obj[field].(float64); ok {
			return fmt.Sprintf("%d", int64(n))
		}
	}
	return "unknown"
}

func normalizeNarrativeLine(role, text string) string {
	collapsed := strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
	return fmt.Sprintf("[%s] %s", role, collapsed)
}

const maxPreservedUserMessages = 12
const maxNarrativeLines = 24

// CompactHistory replaces long conversational history with the
// prompt-control prefix, optionally-trimmed user messages, and one
// trailing <history_summary> block. Deterministic: no model call.
//
// Grounded on spec §4.3 and
// _examples/original_source/rust/kernel-model (compact_history),
// generalized with the developer_instructions/context_ledger_focus
// predicate and richer summary fields the Rust snapshot lacks.
func CompactHistory(history []any, cfg *protocol.CompactConfig, now time.Time) []any {
	var initialBlocks []any
	seenInitial := map[string]struct{}{}
	var previousSummary string
	var summaryItemKey string
	var userMessages []any
	var narrativeLines []string

	for _, item := range history {
		text, hasText := extractItemText(item)
		role := itemRole(item)

		if hasText && role == "user" && isInitialContextText(text) {
			key := structuralKey(item)
			if _, dup := seenInitial[key]; !dup {
				seenInitial[key] = struct{}{}
				initialBlocks = append(initialBlocks, item)
			}
			continue
		}

		if hasText {
			if body, ok := extractHistorySummaryBody(text); ok {
				previousSummary = ledger.SanitizeCompactSummaryText(body)
				summaryItemKey = structuralKey(item)
				continue
			}
		}

		if hasText && role == "user" {
			userMessages = append(userMessages, item)
		}

		if hasText && structuralKey(item) != summaryItemKey {
			narrativeLines = append(narrativeLines, normalizeNarrativeLine(role, text))
		}
	}

	if cfg.PreserveUsers() {
		// keep all, already in order
	} else if len(userMessages) > maxPreservedUserMessages {
		userMessages = userMessages[len(userMessages)-maxPreservedUserMessages:]
	}

	if len(narrativeLines) > maxNarrativeLines {
		narrativeLines = narrativeLines[len(narrativeLines)-maxNarrativeLines:]
	}

	firstTs, lastTs := "unknown", "unknown"
	if len(history) > 0 {
		firstTs = extractTimestamp(history[0])
		lastTs = extractTimestamp(history[len(history)-1])
	}

	summary := buildSummaryText(now, firstTs, lastTs, previousSummary, cfg.Hint(), narrativeLines)

	out := make([]any, 0, len(initialBlocks)+len(userMessages)+1)
	out = append(out, initialBlocks...)
	out = append(out, userMessages...)
	out = append(out, messageItem("assistant", wrapBlock(historySummaryTag, summary)))
	return out
}

func buildSummaryText(now time.Time, sourceStart, sourceEnd, previousSummary, hint string, narrativeLines []string) string {
	lines := []string{
		fmt.Sprintf("compressed_at_ms=%d", now.UnixMilli()),
		fmt.Sprintf("compressed_at_iso=%s", now.Format(time.RFC3339)),
		fmt.Sprintf("source_time_start=%s", sourceStart),
		fmt.Sprintf("source_time_end=%s", sourceEnd),
		"timeline_order=ascending",
		"Compacted context is a time-ordered copy. Original ledger remains immutable append-only.",
	}
	if previousSummary != "" {
		lines = append(lines, "previous_summary="+previousSummary)
	}
	if hint != "" {
		lines = append(lines, "hint: "+hint)
	}
	lines = append(lines, narrativeLines...)
	return strings.Join(lines, "\n")
}

// shouldCompact decides whether manual or auto-compaction applies,
// after a turn's final round produced terminal text.
func shouldCompact(cfg *protocol.CompactConfig, estimatedTokensInWindow, maxInputTokens int, thresholdRatio float64) bool {
	if cfg.IsManual() {
		return true
	}
	if maxInputTokens <= 0 {
		return false
	}
	return float64(estimatedTokensInWindow) > float64(maxInputTokens)*thresholdRatio
}
