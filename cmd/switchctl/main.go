package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rajchinnag/Death-Switch/internal/auth"
	"github.com/rajchinnag/Death-Switch/internal/killswitch"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

var (
	apiFlag   string
	tokenFlag string
)

func client() *apiClient { return newAPIClient(apiFlag, tokenFlag) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "switchctl",
		Short:         "CLI client for the dead man's switch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&apiFlag, "api", "a", envOr("DEATHSWITCH_API", "http://localhost:5000"), "Switch service base URL")
	root.PersistentFlags().StringVarP(&tokenFlag, "token", "t", os.Getenv("DEATHSWITCH_OPERATOR_TOKEN"), "Operator bearer token")
	root.AddCommand(switchCommands()...)
	root.AddCommand(registryCommands()...)
	root.AddCommand(offlineCommands()...)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func switchCommands() []*cobra.Command {
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the switch phase and time remaining",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().get("/status", nil, cmd.OutOrStdout())
		},
	}
	checkin := &cobra.Command{
		Use:   "checkin",
		Short: "Record a check-in and reset the inactivity timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().post("/record-activity", nil, cmd.OutOrStdout())
		},
	}

	var code string
	kill := &cobra.Command{
		Use:   "kill",
		Short: "Disable the switch permanently with the kill-switch code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				var err error
				if code, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return client().post("/kill-switch", map[string]string{"code": code}, cmd.OutOrStdout())
		},
	}
	kill.Flags().StringVar(&code, "code", "", "Kill-switch code (read from stdin when omitted)")

	var reason string
	trig := &cobra.Command{
		Use:   "trigger",
		Short: "Release all documents now (operator token required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenFlag == "" {
				return fmt.Errorf("--token required")
			}
			var body any
			if reason != "" {
				body = map[string]string{"reason": reason}
			}
			return client().post("/trigger-now", body, cmd.OutOrStdout())
		},
	}
	trig.Flags().StringVar(&reason, "reason", "", "Reason recorded with the release")

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the monitoring loop if it is not running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().post("/start-trigger", nil, cmd.OutOrStdout())
		},
	}
	selfTest := &cobra.Command{
		Use:   "test",
		Short: "Run the configuration self-test (operator token required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().post("/test-system", nil, cmd.OutOrStdout())
		},
	}

	var limit int
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent activity, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{}
			if limit > 0 {
				q["limit"] = strconv.Itoa(limit)
			}
			return client().get("/activity-log", q, cmd.OutOrStdout())
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of records (server default when 0)")

	return []*cobra.Command{status, checkin, kill, trig, start, selfTest, logCmd}
}

func registryCommands() []*cobra.Command {
	recipients := &cobra.Command{Use: "recipients", Short: "Recipient operations"}
	recipients.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().get("/recipients", nil, cmd.OutOrStdout())
		},
	})
	var rec model.Recipient
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().post("/add-recipient", rec, cmd.OutOrStdout())
		},
	}
	add.Flags().StringVar(&rec.Name, "name", "", "Recipient name (required)")
	add.Flags().StringVar(&rec.Email, "email", "", "Recipient email (required)")
	add.Flags().StringVar(&rec.Phone, "phone", "", "Recipient phone (required)")
	add.Flags().StringVar(&rec.WhatsApp, "whatsapp", "", "WhatsApp number (defaults to phone)")
	add.Flags().StringVar(&rec.PreferredLanguage, "language", "", "Message language (default english)")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("phone")
	recipients.AddCommand(add)

	documents := &cobra.Command{Use: "documents", Short: "Document operations"}
	documents.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().get("/documents", nil, cmd.OutOrStdout())
		},
	})
	var description string
	upload := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().upload("/upload-document", args[0], description, cmd.OutOrStdout())
		},
	}
	upload.Flags().StringVarP(&description, "description", "d", "", "Document description")
	documents.AddCommand(upload)

	return []*cobra.Command{recipients, documents}
}

// offlineCommands need no running service.
func offlineCommands() []*cobra.Command {
	var p = killswitch.DefaultParams
	hash := &cobra.Command{
		Use:   "hash-code",
		Short: "Hash a kill-switch code for DEATHSWITCH_KILL_SWITCH_HASH (code read from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			encoded, err := killswitch.Hash(code, p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return err
		},
	}
	hash.Flags().Uint32Var(&p.Time, "time", p.Time, "argon2id iterations")
	hash.Flags().Uint32Var(&p.Memory, "memory", p.Memory, "argon2id memory in KiB")

	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token from the operator secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("DEATHSWITCH_OPERATOR_JWT_SECRET")
			}
			tok, err := auth.IssueOperatorToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	token.Flags().StringVar(&secret, "secret", "", "Operator secret (defaults to DEATHSWITCH_OPERATOR_JWT_SECRET)")
	token.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	token.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return []*cobra.Command{hash, token}
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty code")
	}
	return line, nil
}
