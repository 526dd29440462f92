// Package main provides a CLI for the Anvil document API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	anvilbridge "github.com/opengovern/anvil-bridge"
)

var (
	// Global flags
	configFile string
	apiKey     string
	baseURL    string
	timeout    time.Duration
	debug      bool
	jsonOutput bool

	fs = afero.NewOsFs()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil document API CLI",
	Long: `A command-line client for the Anvil document API.

This tool allows you to:
  - Fill PDF templates
  - Generate PDFs from HTML or markdown
  - Download signed document groups
  - Create and inspect etch signature packets

Environment variables:
  ANVIL_API_KEY      - API key
  ANVIL_ACCESS_TOKEN - Access token (used when no API key is set)
  ANVIL_BASE_URL     - API base URL (default: https://app.useanvil.com)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (.hcl, .json, .yaml)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (or ANVIL_API_KEY env)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "API base URL (or ANVIL_BASE_URL env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log requests and retries to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(etchCmd)
}

// loadConfig merges the config file, the environment and the flags, in that order
func loadConfig() (*anvilbridge.Config, error) {
	cfg := anvilbridge.DefaultConfig()
	if configFile != "" {
		loaded, err := anvilbridge.LoadConfigFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if apiKey != "" {
		cfg.APIKey, cfg.AccessToken = apiKey, ""
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	level := hclog.Warn
	if debug {
		level = hclog.Debug
	}
	cfg.Logger = hclog.New(&hclog.LoggerOptions{Name: "anvil", Level: level, Output: os.Stderr})
	cfg.Fs = fs
	return cfg, nil
}

// newClient creates a new API client
func newClient() (*anvilbridge.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	c, err := anvilbridge.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// readJSONFile decodes a JSON file, or stdin when path is "-"
func readJSONFile(path string) (map[string]any, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := fs.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}

// outputJSON prints the value as JSON
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeResult copies a binary result to path, or stdout when path is empty
func writeResult(cmd *cobra.Command, res *anvilbridge.Result, path string) error {
	if err := res.Err(); err != nil {
		if jsonOutput {
			_ = outputJSON(cmd.OutOrStdout(), res)
		}
		return err
	}
	rc, ok := res.Stream()
	if !ok {
		return fmt.Errorf("unexpected response body %T", res.Data)
	}
	defer rc.Close()

	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := fs.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", n, path)
	}
	return nil
}

// printResult prints a GraphQL result
func printResult(cmd *cobra.Command, res *anvilbridge.Result) error {
	if err := outputJSON(cmd.OutOrStdout(), map[string]any{
		"statusCode": res.StatusCode,
		"data":       res.Data,
		"errors":     res.Errors,
	}); err != nil {
		return err
	}
	return res.Err()
}

// Fill command
var fillCmd = &cobra.Command{
	Use:   "fill <template-id>",
	Short: "Fill a PDF template",
	Long: `Fills a PDF template with the JSON payload read from --data.

Example:
  anvil fill cast123 --data payload.json --out filled.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		out, _ := cmd.Flags().GetString("out")
		version, _ := cmd.Flags().GetInt("version")

		payload, err := readJSONFile(dataPath)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		opts := anvilbridge.FillOptions{RequestOptions: anvilbridge.RequestOptions{DataType: anvilbridge.DataTypeStream}}
		if cmd.Flags().Changed("version") {
			opts.VersionNumber = &version
		}
		res, err := c.FillPDF(ctx, args[0], payload, opts)
		if err != nil {
			return fmt.Errorf("fill failed: %w", err)
		}
		return writeResult(cmd, res, out)
	},
}

// Generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a PDF from HTML or markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		out, _ := cmd.Flags().GetString("out")

		payload, err := readJSONFile(dataPath)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := c.GeneratePDF(ctx, payload, anvilbridge.RequestOptions{DataType: anvilbridge.DataTypeStream})
		if err != nil {
			return fmt.Errorf("generate failed: %w", err)
		}
		return writeResult(cmd, res, out)
	},
}

// Download command
var downloadCmd = &cobra.Command{
	Use:   "download <document-group-eid>",
	Short: "Download a document group as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := c.DownloadDocuments(ctx, args[0], anvilbridge.RequestOptions{DataType: anvilbridge.DataTypeStream})
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		return writeResult(cmd, res, out)
	},
}

var etchCmd = &cobra.Command{
	Use:   "etch",
	Short: "Etch signature packet operations",
}

var etchGetCmd = &cobra.Command{
	Use:   "get <packet-eid>",
	Short: "Show an etch packet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		responseQuery, _ := cmd.Flags().GetString("response-query")

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := c.GetEtchPacket(ctx, anvilbridge.GraphQLOperation{
			Variables:     map[string]any{"eid": args[0]},
			ResponseQuery: responseQuery,
		}, anvilbridge.RequestOptions{})
		if err != nil {
			return fmt.Errorf("get etch packet failed: %w", err)
		}
		return printResult(cmd, res)
	},
}

var etchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an etch packet",
	Long: `Creates an etch packet from the variables read from --data.

Local files are attached with --file id=path. A file whose id matches an entry of the
"files" variable is uploaded into that entry; other files are appended.

Example:
  anvil etch create --data packet.json --file nda=./nda.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		uploads, _ := cmd.Flags().GetStringArray("file")

		variables, err := readJSONFile(dataPath)
		if err != nil {
			return err
		}
		closers, err := attachFiles(variables, uploads)
		defer func() {
			for _, f := range closers {
				f.Close()
			}
		}()
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := c.CreateEtchPacket(ctx, anvilbridge.GraphQLOperation{Variables: variables}, anvilbridge.RequestOptions{})
		if err != nil {
			return fmt.Errorf("create etch packet failed: %w", err)
		}
		return printResult(cmd, res)
	},
}

var etchSignURLCmd = &cobra.Command{
	Use:   "sign-url",
	Short: "Generate an embedded signing URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		signerEid, _ := cmd.Flags().GetString("signer-eid")
		clientUserID, _ := cmd.Flags().GetString("client-user-id")

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := c.GenerateEtchSignURL(ctx, map[string]any{
			"signerEid":    signerEid,
			"clientUserId": clientUserID,
		}, anvilbridge.RequestOptions{})
		if err != nil {
			return fmt.Errorf("generate sign url failed: %w", err)
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), res)
		}
		if len(res.Errors) > 0 {
			return &anvilbridge.RemoteError{StatusCode: res.StatusCode, Errors: res.Errors}
		}
		if res.URL == "" {
			return fmt.Errorf("no signing URL returned (status %d)", res.StatusCode)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.URL)
		return nil
	},
}

// attachFiles opens each id=path upload and places it in variables["files"]
func attachFiles(variables map[string]any, specs []string) ([]afero.File, error) {
	var opened []afero.File
	for _, arg := range specs {
		id, path, ok := strings.Cut(arg, "=")
		if !ok || id == "" || path == "" {
			return opened, fmt.Errorf("invalid --file %q, want id=path", arg)
		}
		upload, f, err := anvilbridge.PrepareFile(fs, path, anvilbridge.UploadOptions{})
		if err != nil {
			return opened, err
		}
		opened = append(opened, f)

		files, _ := variables["files"].([]any)
		placed := false
		for _, entry := range files {
			if m, ok := entry.(map[string]any); ok && m["id"] == id {
				m["file"] = upload
				placed = true
				break
			}
		}
		if !placed {
			files = append(files, map[string]any{"id": id, "file": upload})
		}
		variables["files"] = files
	}
	return opened, nil
}

func init() {
	fillCmd.Flags().String("data", "-", "JSON payload file (- for stdin)")
	fillCmd.Flags().String("out", "", "Output file (default stdout)")
	fillCmd.Flags().Int("version", 0, "Template version number")

	generateCmd.Flags().String("data", "-", "JSON payload file (- for stdin)")
	generateCmd.Flags().String("out", "", "Output file (default stdout)")

	downloadCmd.Flags().String("out", "", "Output file (default stdout)")

	etchGetCmd.Flags().String("response-query", "", "GraphQL selection set replacing the default")

	etchCreateCmd.Flags().String("data", "-", "JSON variables file (- for stdin)")
	etchCreateCmd.Flags().StringArray("file", nil, "Attach a local file as id=path (repeatable)")

	etchSignURLCmd.Flags().String("signer-eid", "", "Signer eid")
	etchSignURLCmd.Flags().String("client-user-id", "", "Your identifier for the signer")
	_ = etchSignURLCmd.MarkFlagRequired("signer-eid")
	_ = etchSignURLCmd.MarkFlagRequired("client-user-id")

	etchCmd.AddCommand(etchGetCmd, etchCreateCmd, etchSignURLCmd)
}
