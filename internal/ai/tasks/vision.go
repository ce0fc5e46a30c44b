package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

const (
	describeDetailed = "Describe this Minecraft plugin image in detail, including the features and configuration options visible in any interface screenshot. Answer in %s."
	describeBrief    = "Briefly describe this image in at most 50 words. Answer in %s."
	visionTemp       = 0.3
)

func imageMessage(instruction, url string) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: instruction},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: url}},
		},
	}
}

// DescribeImage returns a detailed description of one image.
func (s *Service) DescribeImage(ctx context.Context, url string) (string, error) {
	if _, err := s.registry.RequireRoleModel(model.RoleVision); err != nil {
		return "", err
	}
	instruction := fmt.Sprintf(describeDetailed, s.language)
	return s.exec.Complete(ctx, model.RoleVision, []*schema.Message{imageMessage(instruction, url)},
		executor.WithTemperature(visionTemp))
}

// DescribeImages returns one short description per url, in order. Images
// that fail, or every image when no vision model is usable, get "".
func (s *Service) DescribeImages(ctx context.Context, urls []string) []string {
	out := make([]string, len(urls))
	limit, err := s.parallelism(model.RoleVision)
	if err != nil {
		logx.Debug().Err(err).Msg("vision role unavailable")
		return out
	}

	instruction := fmt.Sprintf(describeBrief, s.language)
	var g errgroup.Group
	g.SetLimit(limit)
	for i, url := range urls {
		g.Go(func() error {
			desc, err := s.exec.Complete(ctx, model.RoleVision, []*schema.Message{imageMessage(instruction, url)},
				executor.WithTemperature(visionTemp))
			if err != nil {
				logx.Debug().Err(err).Str("url", url).Msg("image description failed")
				return nil
			}
			out[i] = strings.TrimSpace(desc)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
