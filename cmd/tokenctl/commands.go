package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/cli"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

const maxInputBytes = 1 << 20

type globalOptions struct {
	gateway string
	token   string
	timeout time.Duration
	noColor bool
}

func (o *globalOptions) client() *httputil.ServiceClient {
	return httputil.NewServiceClient(httputil.ServiceClientConfig{
		Service:     "gateway",
		AccessToken: o.token,
		BaseURL:     o.gateway,
		Timeout:     o.timeout,
		MaxRetries:  -1,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           cli.Program,
		Short:         "Create tokens, run token actions and inspect transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.gateway, "gateway", envOr("TOKENCTL_GATEWAY", "http://localhost:8080"), "Gateway base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TOKENCTL_TOKEN"), "Bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Overall request timeout")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newCreateCmd(opts),
		newActionCmd(opts),
		newStatusCmd(opts),
		newEncodeCmd(),
		newDecodeCmd(),
		newCompletionCmd(),
	)
	return root
}

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:     "create [asset-type]",
		Short:   "Create a token and follow the transaction",
		Example: fmt.Sprintf("%s create bond --input bond.json", cli.Program),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetType, err := tokens.ParseAssetType(args[0])
			if err != nil {
				return err
			}
			body, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}
			return streamAction(cmd, opts, "/v1/tokens/"+string(assetType), body)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "-", "Creation input JSON file, - for stdin")
	return cmd
}

func newActionCmd(opts *globalOptions) *cobra.Command {
	var (
		inputPath string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:     "action [action] [token-address]",
		Short:   "Run an action on an existing token",
		Example: fmt.Sprintf("%s action mint 0x5e77...0001 --input mint.json --wait", cli.Program),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := chain.ParseAddress("token", args[1])
			if err != nil {
				return err
			}
			body, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}
			path := "/v1/tokens/" + token.Hex() + "/actions/" + url.PathEscape(args[0])
			if wait {
				path += "?waitForIndexing=true"
			}
			return streamAction(cmd, opts, path, body)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "-", "Action input JSON file, - for stdin")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the indexer after confirmation")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		rpcURL string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "status [tx-hash]",
		Short: "Classify a transaction",
		Long: "Asks the gateway to classify a transaction. With --rpc the receipt is read\n" +
			"straight from the node instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := chain.ParseHash(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if rpcURL != "" {
				return nodeStatus(ctx, cmd.OutOrStdout(), rpcURL, hash, wait)
			}

			resp, err := opts.client().Get(ctx, "/v1/transactions/"+hash.Hex())
			if err != nil {
				return err
			}
			if err := gatewayError(resp); err != nil {
				return err
			}
			var out map[string]interface{}
			if err := httputil.DecodeResponse(resp, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc", os.Getenv("TOKENCTL_RPC"), "JSON-RPC node URL to read the receipt from")
	cmd.Flags().BoolVar(&wait, "wait", false, "With --rpc, poll until the receipt is mined")
	return cmd
}

type nodeReceipt struct {
	*chain.Receipt
	Succeeded     bool   `json:"succeeded"`
	Confirmations uint64 `json:"confirmations"`
}

func nodeStatus(ctx context.Context, w io.Writer, rpcURL string, hash common.Hash, wait bool) error {
	client, err := chain.NewClient(chain.Config{RPCURL: rpcURL})
	if err != nil {
		return err
	}
	defer client.Close()

	var receipt *chain.Receipt
	if wait {
		receipt, err = chain.WaitForReceipt(ctx, client, hash, chain.DefaultPollInterval)
	} else {
		receipt, err = client.GetReceipt(ctx, hash)
	}
	if err != nil {
		return err
	}

	out := nodeReceipt{Receipt: receipt, Succeeded: receipt.Succeeded()}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head >= receipt.BlockNumber {
		out.Confirmations = head - receipt.BlockNumber + 1
	}
	return printJSON(w, out)
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "encode [module-type] [values-json]",
		Short:   "Encode compliance module parameters",
		Example: fmt.Sprintf(`%s encode country-allow-list '{"countries":[56,840]}'`, cli.Program),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := json.Marshal(map[string]interface{}{
				"typeId": args[0],
				"values": json.RawMessage(args[1]),
			})
			if err != nil {
				return apperrors.InvalidInput("values must be valid JSON")
			}
			var cfg compliance.ModuleConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return err
			}
			out, err := compliance.Encode(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "0x"+common.Bytes2Hex(out))
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [module-type] [0x-params]",
		Short: "Decode compliance module parameters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeID, err := compliance.ParseModuleType(args[0])
			if err != nil {
				return err
			}
			if !strings.HasPrefix(args[1], "0x") {
				return apperrors.InvalidInput("params must be 0x-prefixed hex")
			}
			cfg, err := compliance.Decode(typeID, common.FromHex(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newCompletionCmd() *cobra.Command {
	var install bool
	cmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if install {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				return cli.InstallCompletion(args[0], home, cmd.OutOrStdout())
			}
			script, err := cli.Script(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), script)
			return nil
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "Install into the shell's completion directory")
	return cmd
}

func readInput(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := httputil.ReadAllStrict(r, maxInputBytes)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if !json.Valid(data) {
		return nil, apperrors.InvalidInput("input is not valid JSON")
	}
	return data, nil
}

// streamAction posts body and renders the NDJSON event stream.
func streamAction(cmd *cobra.Command, opts *globalOptions, path string, body json.RawMessage) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	resp, err := opts.client().Post(ctx, path, body)
	if err != nil {
		return err
	}
	if err := gatewayError(resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("X-Action-ID"); id != "" {
		if !opts.noColor {
			id = cli.Colorize(id, cli.ColorBold)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "action %s\n", id)
	}

	renderer := cli.NewRenderer(cmd.OutOrStdout())
	if opts.noColor {
		renderer.DisableColor()
	}

	events := make(chan pipeline.Event)
	decodeErr := make(chan error, 1)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64<<10), maxInputBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev pipeline.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				decodeErr <- fmt.Errorf("decode event: %w", err)
				return
			}
			events <- ev
		}
		decodeErr <- scanner.Err()
	}()

	_, renderErr := renderer.Render(events)
	if err := <-decodeErr; err != nil {
		return err
	}
	return renderErr
}

// gatewayError converts a non-2xx gateway response into its coded error and
// closes the body.
func gatewayError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	defer resp.Body.Close()

	data, _, err := httputil.ReadAllWithLimit(resp.Body, 64<<10)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	var body httputil.ErrorBody
	if json.Unmarshal(data, &body) == nil && body.Code != "" {
		se := apperrors.New(body.Code, body.Message)
		for k, v := range body.Details {
			se = se.WithDetails(k, v)
		}
		return se
	}
	return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
