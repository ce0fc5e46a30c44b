package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mc-plugin-market/assistant/internal/ai/agent"
	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	"github.com/mc-plugin-market/assistant/internal/ai/registry"
	"github.com/mc-plugin-market/assistant/internal/ai/tasks"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assistant",
		Short:         "Plugin market AI assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logx.Debug().Str("command", cmd.Name()).Msg("command finished")
		},
	}

	cmd.AddCommand(agentCmd())
	cmd.AddCommand(chatCmd())
	cmd.AddCommand(translateCmd())
	cmd.AddCommand(describeCmd())
	cmd.AddCommand(modelsCmd())
	return cmd
}

// withApp loads config, wires the services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to process environment config: %w", err)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func agentCmd() *cobra.Command {
	var conversationID string
	var interactive bool
	var reset bool

	cmd := &cobra.Command{
		Use:   "agent [message]",
		Short: "Ask the docs and server agent",
		Long: `Send a message to the agent. It can read the plugin docs and, when
AGENT_SERVER_ROOT is set, the files of a Minecraft server.

Examples:
  assistant agent "How do I give a group a LuckPerms permission?"
  assistant agent -c support-42 "Why does my server crash on start?"
  assistant agent -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive && len(args) == 0 {
				return errors.New("message is required unless --interactive is set")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if reset {
					if err := a.repo.ClearHistory(ctx, conversationID); err != nil {
						return err
					}
				}
				if !interactive {
					return runAgentTurn(ctx, a, conversationID, strings.Join(args, " "))
				}
				return runAgentInteractive(ctx, a, conversationID)
			})
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "default", "conversation id for history")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start interactive session")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the conversation history first")
	return cmd
}

func runAgentTurn(ctx context.Context, a *app, conversationID, message string) error {
	res, err := a.session.Turn(ctx, conversationID, message, printEvent)
	fmt.Println()
	if err != nil {
		return err
	}
	logx.Debug().
		Int("rounds", res.Rounds).
		Bool("limit_reached", res.LimitReached).
		Bool("awaiting_user", res.AwaitingUser).
		Msg("agent turn finished")
	return nil
}

func runAgentInteractive(ctx context.Context, a *app, conversationID string) error {
	fmt.Println("Type your message, or 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := runAgentTurn(ctx, a, conversationID, line); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventChunk:
		fmt.Print(ev.Text)
	case agent.EventNotice:
		fmt.Printf("\n[%s]\n", ev.Text)
	case agent.EventOperation:
		op := ev.Operation
		if op.Status == model.OperationPending {
			return
		}
		target := op.Target
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(os.Stderr, "  %s %s (%s)\n", op.Kind, target, op.Status)
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <doc-path> <question>",
		Short: "Ask a question about one document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				content, err := a.docs.ReadDocument(ctx, args[0])
				if err != nil {
					return err
				}
				doc := tasks.Document{Title: path.Base(args[0]), Content: content}
				sr, err := a.tasks.AskDocument(ctx, doc, nil, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printStream(sr)
			})
		},
	}
}

func printStream(sr *executor.AnswerStream) error {
	defer sr.Close()
	defer fmt.Println()
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Print(chunk)
	}
}

func translateCmd() *cobra.Command {
	var output string
	var plugins bool

	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate a markdown document or a plugin list",
		Long: `Translate a markdown document into TASKS_TARGET_LANGUAGE, keeping its
structure. With --plugins the file is a YAML list of {id, name, summary}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var out []byte
				if plugins {
					out, err = translatePlugins(ctx, a, data)
				} else {
					var text string
					text, err = a.tasks.TranslateDocument(ctx, string(data), func(done, total int) {
						fmt.Fprintf(os.Stderr, "\rtranslated %d/%d", done, total)
					})
					fmt.Fprintln(os.Stderr)
					out = []byte(text)
				}
				if err != nil {
					return err
				}
				if output == "" {
					_, err = os.Stdout.Write(out)
					return err
				}
				return os.WriteFile(output, out, 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().BoolVar(&plugins, "plugins", false, "treat the input as a YAML plugin list")
	return cmd
}

func translatePlugins(ctx context.Context, a *app, data []byte) ([]byte, error) {
	var list []tasks.PluginInfo
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse plugin list: %w", err)
	}
	translated, err := a.tasks.TranslatePluginInfos(ctx, list)
	if err != nil {
		return nil, err
	}
	out := make([]tasks.PluginTranslation, 0, len(list))
	for _, p := range list {
		out = append(out, translated[p.ID])
	}
	return yaml.Marshal(out)
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <image-url>...",
		Short: "Describe images with the vision model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				for i, desc := range a.tasks.DescribeImages(ctx, args) {
					if desc == "" {
						desc = "(no description)"
					}
					fmt.Printf("%s\n%s\n\n", args[i], desc)
				}
				return ctx.Err()
			})
		},
	}
}

// modelsCmd edits the model settings. It needs no Redis connection.
func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and edit model settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models and role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := modelRegistry(cmd)
			if err != nil {
				return err
			}
			fmt.Println("Models:")
			for _, m := range reg.Models() {
				state := "disabled"
				if m.Enabled {
					state = "enabled"
				}
				if m.APIKey == "" {
					state += ", no api key"
				}
				fmt.Printf("  %-16s %-10s %-24s max=%d (%s)\n", m.ID, m.Provider, m.Model, m.MaxConcurrency, state)
			}
			fmt.Println("Roles:")
			for _, line := range reg.Describe() {
				fmt.Println("  " + line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "assign <role> <model-id>",
		Short: "Assign a model to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := modelRegistry(cmd)
			if err != nil {
				return err
			}
			role, err := model.ParseRole(args[0])
			if err != nil {
				return err
			}
			return reg.SetRoleAssignment(role, args[1])
		},
	})

	for _, enabled := range []bool{true, false} {
		use, short := "enable <model-id>", "Enable a model"
		if !enabled {
			use, short = "disable <model-id>", "Disable a model"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, err := modelRegistry(cmd)
				if err != nil {
					return err
				}
				return reg.UpdateModel(args[0], func(m *model.ModelConfig) {
					m.Enabled = enabled
				})
			},
		})
	}

	return cmd
}

func modelRegistry(cmd *cobra.Command) (*registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Registry.File == "" && cmd.Name() != "list" {
		return nil, errors.New("AI_MODELS_FILE must be set to change model settings")
	}
	cfg.Registry.Watch = false
	return openRegistry(cmd.Context(), cfg)
}
