package agent

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/agent/prompts"
	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// SummaryPrefix opens the synthetic message that replaces compacted turns.
const SummaryPrefix = "Conversation summary"

type Summarizer interface {
	Complete(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (string, error)
}

// Compactor bounds the size of a running message list by summarising all
// but the most recent messages once the footprint crosses a threshold.
type Compactor struct {
	summarizer  Summarizer
	threshold   int
	keep        int
	role        model.Role
	temperature float32
}

func NewCompactor(s Summarizer, cfg model.CompactionConfig) *Compactor {
	c := &Compactor{
		summarizer:  s,
		threshold:   cfg.ThresholdChars,
		keep:        cfg.KeepRecent,
		role:        cfg.Role,
		temperature: cfg.Temperature,
	}
	if c.threshold <= 0 {
		c.threshold = 150000
	}
	if c.keep <= 0 {
		c.keep = 5
	}
	if c.role == "" {
		c.role = model.RoleDecision
	}
	if c.temperature <= 0 {
		c.temperature = 0.3
	}
	return c
}

// Compact returns the list to use for the next model call and whether it
// was rewritten. Any failure leaves msgs untouched.
func (c *Compactor) Compact(ctx context.Context, msgs []*schema.Message) ([]*schema.Message, bool) {
	size := model.Footprint(msgs)
	if size <= c.threshold {
		return msgs, false
	}

	var system *schema.Message
	body := msgs
	if len(body) > 0 && body[0] != nil && body[0].Role == schema.System {
		system, body = body[0], body[1:]
	}
	if len(body) <= c.keep {
		return msgs, false
	}

	cut := len(body) - c.keep
	// A tool result must stay next to the assistant message that asked for it.
	for cut > 0 && body[cut] != nil && body[cut].Role == schema.Tool {
		cut--
	}
	if cut == 0 {
		return msgs, false
	}
	prefix, recent := body[:cut], body[cut:]

	request, err := prompts.RenderCompaction(ctx, prefix)
	if err != nil {
		logx.Warn().Err(err).Msg("compaction skipped")
		return msgs, false
	}
	summary, err := c.summarizer.Complete(ctx, c.role, request, executor.WithTemperature(c.temperature))
	if err != nil {
		logx.Warn().Err(err).Int("chars", size).Msg("compaction failed, keeping full history")
		return msgs, false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		logx.Warn().Int("chars", size).Msg("compaction returned empty summary, keeping full history")
		return msgs, false
	}

	out := make([]*schema.Message, 0, len(recent)+2)
	if system != nil {
		out = append(out, system)
	}
	out = append(out, schema.AssistantMessage(SummaryPrefix+":\n"+summary, nil))
	out = append(out, recent...)

	logx.Info().
		Int("before_messages", len(msgs)).
		Int("after_messages", len(out)).
		Int("before_chars", size).
		Int("after_chars", model.Footprint(out)).
		Msg("conversation compacted")
	return out, true
}
