package tasks

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// ProgressFunc reports translated segments out of the total.
type ProgressFunc func(done, total int)

// TranslateDocument translates a markdown document line by line, keeping
// its structure. Batches run in parallel up to the translate model's cap;
// a failed batch keeps its original lines.
func (s *Service) TranslateDocument(ctx context.Context, content string, onProgress ProgressFunc) (string, error) {
	limit, err := s.parallelism(model.RoleTranslate)
	if err != nil {
		return "", err
	}

	lines := strings.Split(content, "\n")
	segments := extractSegments(lines)
	if len(segments) == 0 {
		return content, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	report := func(n int) {
		mu.Lock()
		defer mu.Unlock()
		done += n
		if onProgress != nil {
			onProgress(done, len(segments))
		}
	}

	system := schema.SystemMessage(s.render(translateDocumentPrompt))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for start := 0; start < len(segments); start += s.batchSize {
		batch := segments[start:min(start+s.batchSize, len(segments))]
		g.Go(func() error {
			defer report(len(batch))

			answer, err := s.exec.Complete(gctx, model.RoleTranslate, []*schema.Message{
				system,
				schema.UserMessage("Translate to " + s.language + " (output translation only):\n\n" + joinBatch(batch)),
			}, executor.WithTemperature(s.temperature))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logx.Warn().Err(err).Int("line", batch[0].index+1).Int("segments", len(batch)).Msg("translation batch failed, keeping original")
				return nil
			}

			parts := splitBatch(answer)
			// Batches own disjoint line indexes.
			for j, seg := range batch {
				translated := seg.text
				if j < len(parts) && strings.TrimSpace(parts[j]) != "" {
					translated = strings.TrimSpace(parts[j])
				}
				lines[seg.index] = seg.rebuild(translated)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// PluginInfo is a plugin listing to translate.
type PluginInfo struct {
	ID      string
	Name    string
	Summary string
}

type PluginTranslation struct {
	ID      string
	Name    string
	Summary string
}

var (
	nameLine    = regexp.MustCompile(`(?im)^\s*name\s*[:：]\s*(.+)$`)
	summaryLine = regexp.MustCompile(`(?im)^\s*summary\s*[:：]\s*(.+)$`)
)

// TranslatePluginInfos translates names and summaries. A plugin whose
// request fails keeps its original text.
func (s *Service) TranslatePluginInfos(ctx context.Context, plugins []PluginInfo) (map[string]PluginTranslation, error) {
	limit, err := s.parallelism(model.RoleTranslate)
	if err != nil {
		return nil, err
	}

	system := schema.SystemMessage(s.render(translatePluginPrompt))
	results := make([]PluginTranslation, len(plugins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range plugins {
		results[i] = PluginTranslation{ID: p.ID, Name: p.Name, Summary: p.Summary}
		g.Go(func() error {
			answer, err := s.exec.Complete(gctx, model.RoleTranslate, []*schema.Message{
				system,
				schema.UserMessage("Plugin name: " + p.Name + "\nSummary: " + p.Summary),
			}, executor.WithTemperature(s.temperature))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logx.Debug().Err(err).Str("plugin", p.ID).Msg("plugin translation failed, keeping original")
				return nil
			}
			if m := nameLine.FindStringSubmatch(answer); m != nil {
				results[i].Name = strings.TrimSpace(m[1])
			}
			if m := summaryLine.FindStringSubmatch(answer); m != nil {
				results[i].Summary = strings.TrimSpace(m[1])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]PluginTranslation, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out, nil
}
