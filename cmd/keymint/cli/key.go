package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and verify API keys directly against the configured key store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyVerifyCmd())

	return cmd
}

// ---------- key create ----------

type keyCreateOptions struct {
	owner      string
	tenant     string
	name       string
	scopes     string
	ttl        time.Duration
	metadata   string
	jsonOutput bool
}

func newKeyCreateCmd() *cobra.Command {
	var opts keyCreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for an owner within a tenant. The plaintext key is shown once and cannot be retrieved again.",
		Example: `  keymint key create --owner alice --tenant acme --name "CI pipeline"
  keymint key create --owner alice --tenant acme --scopes "api1 api2" --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "Subject id of the key owner (required)")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant the key belongs to (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name for the key")
	cmd.Flags().StringVar(&opts.scopes, "scopes", "", "Space or comma separated scopes (default: configured default scopes)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "Key lifetime, e.g. 720h (default: never expires)")
	cmd.Flags().StringVar(&opts.metadata, "metadata", "", "Opaque metadata stored with the key")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyCreate(ctx context.Context, out io.Writer, opts keyCreateOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := openKeys(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer env.Close()

	params := apikey.CreateParams{
		OwnerID:  opts.owner,
		TenantID: opts.tenant,
		Name:     opts.name,
		Scopes:   apikey.ParseScopes(opts.scopes),
		Metadata: opts.metadata,
	}
	if opts.ttl != 0 {
		ttl := opts.ttl
		params.TTL = &ttl
	}

	wire, key, err := env.keys.Create(ctx, params)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidScope) {
			return fmt.Errorf("%w (allowed for tenant %q: %v)", err, opts.tenant, env.keys.Policy().Vocabulary(opts.tenant))
		}
		return fmt.Errorf("create api key: %w", err)
	}

	if opts.jsonOutput {
		return printJSON(out, model.CreatedKey{
			APIKey:    wire,
			ID:        key.PublicID,
			Tenant:    key.TenantID,
			Name:      key.Name,
			Scopes:    key.Scopes,
			ExpiresAt: key.ExpiresAt,
			CreatedAt: key.CreatedAt,
		})
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:     %s\n", wire)
	fmt.Fprintf(out, "  ID:      %s\n", key.PublicID)
	fmt.Fprintf(out, "  Owner:   %s\n", key.OwnerID)
	fmt.Fprintf(out, "  Tenant:  %s\n", key.TenantID)
	fmt.Fprintf(out, "  Scopes:  %s\n", strings.Join(key.Scopes, " "))
	if key.Name != "" {
		fmt.Fprintf(out, "  Name:    %s\n", key.Name)
	}
	if key.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		tenant     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List active API keys of an owner within a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), owner, tenant, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Subject id of the key owner (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to list (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, owner, tenant string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := openKeys(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer env.Close()

	keys, err := env.keys.List(ctx, owner, tenant)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		resp := model.KeyListResponse{
			Resource: make([]model.KeySummary, 0, len(keys)),
			Meta:     model.ResponseMeta{Count: len(keys)},
		}
		for i := range keys {
			resp.Resource = append(resp.Resource, model.NewKeySummary(&keys[i]))
		}
		return printJSON(out, resp)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No active API keys. Use 'keymint key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-18s %-20s %-24s %-20s %s\n", "ID", "NAME", "SCOPES", "CREATED", "LAST USED")
	fmt.Fprintf(out, "%-18s %-20s %-24s %-20s %s\n", "--", "----", "------", "-------", "---------")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.DateTime)
		}
		fmt.Fprintf(out, "%-18s %-20s %-24s %-20s %s\n",
			k.PublicID, k.Name, strings.Join(k.Scopes, " "), k.CreatedAt.Format(time.DateTime), lastUsed)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var (
		owner  string
		tenant string
	)

	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by its public id",
		Long:  "Revoke an API key. Revocation is permanent and takes effect on the next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.Context(), cmd.OutOrStdout(), args[0], owner, tenant)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Subject id of the key owner (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant of the key (required)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyRevoke(ctx context.Context, out io.Writer, id, owner, tenant string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := openKeys(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer env.Close()

	ok, err := env.keys.Revoke(ctx, id, owner, tenant)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no active key %q for owner %q in tenant %q", id, owner, tenant)
	}

	fmt.Fprintf(out, "API key %s revoked.\n", id)
	return nil
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify [key]",
		Short: "Check whether an API key is valid",
		Long: `Validate a plaintext API key against the key store without recording usage.
When no key argument is given it is read from stdin, hidden if stdin is a terminal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wire := ""
			if len(args) > 0 {
				wire = args[0]
			} else {
				var err error
				if wire, err = readKey(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return runKeyVerify(cmd.Context(), cmd.OutOrStdout(), wire, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// readKey reads a key from stdin without echoing it when stdin is a
// terminal.
func readKey(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type verifyResult struct {
	Valid  bool              `json:"valid"`
	Reason string            `json:"reason,omitempty"`
	Owner  string            `json:"owner,omitempty"`
	Key    *model.KeySummary `json:"key,omitempty"`
}

func runKeyVerify(ctx context.Context, out io.Writer, wire string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := openKeys(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer env.Close()

	var res verifyResult
	key, err := env.keys.Validate(ctx, wire, false)
	switch {
	case err == nil:
		summary := model.NewKeySummary(key)
		res = verifyResult{Valid: true, Owner: key.OwnerID, Key: &summary}
	case errors.Is(err, apikey.ErrInvalidKey):
		res.Reason = rejectionReason(err)
	default:
		return fmt.Errorf("verify api key: %w", err)
	}

	if jsonOutput {
		return printJSON(out, res)
	}
	if !res.Valid {
		fmt.Fprintf(out, "invalid: %s\n", res.Reason)
		return nil
	}
	fmt.Fprintln(out, "valid")
	fmt.Fprintf(out, "  ID:      %s\n", key.PublicID)
	fmt.Fprintf(out, "  Owner:   %s\n", key.OwnerID)
	fmt.Fprintf(out, "  Tenant:  %s\n", key.TenantID)
	fmt.Fprintf(out, "  Scopes:  %s\n", strings.Join(key.Scopes, " "))
	return nil
}

// rejectionReason names the failing check. HTTP callers only ever see
// "Invalid credentials".
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, apikey.ErrMalformedKey):
		return "malformed"
	case errors.Is(err, apikey.ErrKeyNotFound):
		return "not found"
	case errors.Is(err, apikey.ErrKeyInactive):
		return "revoked or expired"
	case errors.Is(err, apikey.ErrHashMismatch):
		return "secret mismatch"
	}
	return "rejected"
}
