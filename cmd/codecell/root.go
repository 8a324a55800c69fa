package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/codecell/classifier"
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var rootCmd = &cobra.Command{
	Use:   "codecell",
	Short: "Run Python, JavaScript and TypeScript snippets in sandboxes",
	Long: `codecell - classify code snippets and run them in sandboxes.

Snippets may be plain source or wrapped in a Markdown fence; the fence tag
or the content decides which sandbox runs them. Python runs in a persistent
interpreter, JavaScript and TypeScript run under Node.js.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language: python, javascript, typescript (default: auto-detect)")
	rootCmd.PersistentFlags().StringP("format", "f", formatText, "Output format: text, json, yaml")
}

// readSource returns the snippet from the file argument, the --code flag or stdin.
func readSource(cmd *cobra.Command, args []string) (source, filename string, err error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return string(data), args[0], nil
	}

	if cmd.Flags().Lookup("code") != nil {
		if code, _ := cmd.Flags().GetString("code"); code != "" {
			return code, "", nil
		}
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", fmt.Errorf("no code provided: pass a file, --code or stdin")
	}
	return string(data), "", nil
}

// classifySource classifies source, pinning the language from --lang or
// the file extension when either is given.
func classifySource(cmd *cobra.Command, source, filename string) (classifier.Submission, error) {
	sub := classifier.Classify(source)

	tag, _ := cmd.Flags().GetString("lang")
	if tag == "" && filename != "" {
		tag = languageForExt(filepath.Ext(filename))
	}
	if tag == "" {
		return sub, nil
	}

	lang, ok := classifier.ParseLanguage(tag)
	if !ok {
		return sub, fmt.Errorf("unknown language %q: use python, javascript or typescript", tag)
	}
	return sub.WithLanguage(lang), nil
}

func languageForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".py":
		return classifier.NamePython
	case ".js", ".mjs", ".cjs":
		return classifier.NameJavaScript
	case ".ts", ".mts", ".cts":
		return classifier.NameTypeScript
	default:
		return ""
	}
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case formatText, formatJSON, formatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unknown format %q: use text, json or yaml", format)
	}
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", format)
	}
}
