package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"photo-critic/api/internal/critique/types"
	"photo-critic/api/internal/imaging"
	"photo-critic/api/internal/telegram"
)

var (
	analyzeImage    string
	analyzeLevel    string
	analyzeDetailed bool
	analyzeEngine   string
	analyzeFormat   string
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [image]",
		Short: "Critique a local image once and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				analyzeImage = args[0]
			}
			if analyzeImage == "" {
				return errors.New("--image is required")
			}
			switch analyzeFormat {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown --format %q: use text, json or yaml", analyzeFormat)
			}
			raw, err := os.ReadFile(analyzeImage)
			if err != nil {
				return err
			}
			res, err := analyze(cmd.Context(), raw, types.Request{
				ViewerLevel: analyzeLevel,
				Detailed:    analyzeDetailed,
				Engine:      analyzeEngine,
			})
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), res, analyzeFormat)
		},
		Example: `photo-critic analyze --image shot.jpg --level профи --detailed --format yaml`,
	}
	cmd.Flags().StringVarP(&analyzeImage, "image", "i", "", "Path to the photo (or pass it as the argument)")
	cmd.Flags().StringVarP(&analyzeLevel, "level", "l", "", "Viewer level, e.g. новичок, любитель, профи")
	cmd.Flags().BoolVarP(&analyzeDetailed, "detailed", "d", false, "Ask for problem zones with coordinates")
	cmd.Flags().StringVarP(&analyzeEngine, "engine", "e", "", "gpt or gemini (default: llm.default_engine)")
	cmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

func analyze(ctx context.Context, raw []byte, req types.Request) (types.Result, error) {
	critic, err := buildCritic(cfg, log)
	if err != nil {
		return types.Result{}, err
	}
	img, err := imaging.Prepare(raw, imageOptions(cfg))
	if err != nil {
		return types.Result{}, err
	}
	req.Image, req.MIME = img.Data, img.MIME

	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancel()
	return critic.Critique(ctx, req)
}

// writeResult prints the critique. json and yaml share the HTTP response shape.
func writeResult(w io.Writer, res types.Result, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(map[string]any{"feedback": res})
	case "yaml":
		// go through JSON so field names match the API
		b, err := json.Marshal(map[string]any{"feedback": res})
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, telegram.FormatResult(res))
		return err
	}
}

func init() { rootCmd.AddCommand(newAnalyzeCmd()) }
