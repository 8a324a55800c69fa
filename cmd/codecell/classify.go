package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Report the language a snippet would run as",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringP("code", "c", "", "Code to classify")
	rootCmd.AddCommand(classifyCmd)
}

type classification struct {
	Language string `json:"language" yaml:"language"`
	Declared string `json:"declared,omitempty" yaml:"declared,omitempty"`
	Runnable bool   `json:"runnable" yaml:"runnable"`
	Code     string `json:"code" yaml:"code"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	sub, err := classifySource(cmd, source, filename)
	if err != nil {
		return err
	}

	result := classification{
		Language: sub.InferredLanguage.String(),
		Declared: sub.DeclaredLanguage,
		Runnable: sub.Runnable(),
		Code:     sub.CleanedCode,
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return encode(out, format, result)
	}

	fmt.Fprintf(out, "language: %s\n", result.Language)
	if result.Declared != "" {
		fmt.Fprintf(out, "declared: %s\n", result.Declared)
	}
	fmt.Fprintf(out, "runnable: %t\n", result.Runnable)
	return nil
}
