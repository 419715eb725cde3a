package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keymint/keymint/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long:  "Print the OpenAPI 3.1 document describing the key management, token, and health endpoints.",
		Example: `  keymint openapi
  keymint openapi --base-url https://auth.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd, baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL written into the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(cmd *cobra.Command, baseURL, outputFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	doc := openapi.Generate(baseURL, cfg.Auth.APIKeyHeader)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}
	data = append(data, '\n')

	if outputFile == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
	return nil
}
