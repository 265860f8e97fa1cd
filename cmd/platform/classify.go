package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fincasdesk/platform/internal/extractor"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

var (
	classifySubject string
	classifyBody    string
	classifySender  string
	classifyDict    string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run the keyword classifier on a message",
	Long: `classify runs the deterministic analysis used when the AI provider is not
available and prints the result as JSON. Use --dictionary to try changes to
the keyword file before shipping them.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifySubject, "subject", "", "message subject")
	classifyCmd.Flags().StringVar(&classifyBody, "body", "", "message body")
	classifyCmd.Flags().StringVar(&classifySender, "sender", "", "sender email or phone")
	classifyCmd.Flags().StringVar(&classifyDict, "dictionary", "", "path to a keyword dictionary YAML file")
}

func runClassify(cmd *cobra.Command, _ []string) error {
	if classifySubject == "" && classifyBody == "" {
		return fmt.Errorf("--subject or --body is required")
	}

	classifier := extractor.DefaultClassifier()
	if classifyDict != "" {
		raw, err := os.ReadFile(classifyDict)
		if err != nil {
			return err
		}
		dict, err := extractor.ParseDictionary(raw)
		if err != nil {
			return err
		}
		if classifier, err = extractor.NewClassifier(dict); err != nil {
			return err
		}
	}

	ext := extractor.New(nil, classifier, logger.Discard())
	a := ext.Fallback(extractor.Request{
		Subject:        classifySubject,
		Body:           classifyBody,
		SenderIdentity: classifySender,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
