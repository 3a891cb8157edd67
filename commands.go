package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/auth"
	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/groupbuy"
	"github.com/groupbuy/groupbuy-client/internal/hooks"
	"github.com/groupbuy/groupbuy-client/internal/observe"
	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// app carries what the commands share. The function fields are replaced in
// tests.
type app struct {
	loadConfig   func(ctx context.Context) (config.Config, error)
	readPassword func(cmd *cobra.Command) (string, error)

	offline bool

	client            *groupbuy.Client
	shutdownTelemetry observe.ShutdownFunc
}

func newApp() *app {
	return &app{
		loadConfig:   config.Load,
		readPassword: readPassword,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "groupbuy",
		Short:         "Command line client for the group-buy API",
		SilenceUsage:  true,
		SilenceErrors: false,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "Treat the network as unavailable: reads come from cache, writes are refused")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}
	cacheCmd.AddCommand(cacheStatsCmd(a), cacheClearCmd(a))

	root.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		sessionCmd(a),
		getCmd(a),
		sendCmd(a, http.MethodPost),
		sendCmd(a, http.MethodPut),
		sendCmd(a, http.MethodPatch),
		deleteCmd(a),
		productsCmd(a),
		cacheCmd,
	)

	root.CompletionOptions.HiddenDefaultCmd = true

	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	a.shutdownTelemetry, err = observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	a.client, err = groupbuy.New(ctx, cfg)
	if err != nil {
		return err
	}

	a.client.Network.SetOnline(!a.offline)
	return nil
}

func (a *app) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close(ctx))
		a.client = nil
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
		a.shutdownTelemetry = nil
	}
	return errors.Join(errs...)
}

func loginCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long:  "Sign in with email and password. The password is prompted for, or read from stdin when it is not a terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readPassword(cmd)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			if email == "" || password == "" {
				return errors.New("email and password cannot be empty")
			}

			grant, err := a.client.Login(cmd.Context(), auth.Credentials{Email: email, Password: password})
			if err != nil {
				return err
			}

			cmd.Printf("Signed in. Session valid until %s.\n", grant.Tokens.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", os.Getenv("GROUPBUY_EMAIL"), "Account email (default $GROUPBUY_EMAIL)")

	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session and cached responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Signed out.")
			return nil
		},
	}
}

func sessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client.Session.Session(cmd.Context())
			if err != nil {
				return err
			}

			if !s.Authenticated {
				cmd.Println("Not signed in.")
				return nil
			}

			state := "active"
			if s.Expired {
				state = "expired"
			}
			cmd.Printf("Signed in (%s), access token expires %s.\n", state, s.ExpiresAt.Local().Format(time.RFC1123))
			if s.CanRefresh {
				cmd.Println("The session can be refreshed.")
			}
			return nil
		},
	}
}

func getCmd(a *app) *cobra.Command {
	var (
		params         []string
		cachePreferred bool
		noCache        bool
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Read an endpoint and print the response data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := paramOptions(params)
			if err != nil {
				return err
			}
			if noCache {
				opts = append(opts, api.WithoutCache())
			}

			q := hooks.NewQuery(hooks.Get[json.RawMessage](a.client.Requester, args[0], opts...), hooks.WithNetwork(a.client.Network))
			defer q.Close()

			var res result.Result[json.RawMessage]
			if cachePreferred {
				res = q.Execute(cmd.Context())
			} else {
				res = q.Refetch(cmd.Context())
			}

			return printResult(cmd, res)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&cachePreferred, "cache-preferred", false, "Serve from cache when a fresh entry exists")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the response cache")

	return cmd
}

func sendCmd(a *app, method string) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <endpoint>",
		Short: method + " a JSON body to an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd, data)
			if err != nil {
				return err
			}
			return a.mutate(cmd, method, args[0], body)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, @file to read a file, or - for stdin")

	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <endpoint>",
		Short: "DELETE an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, http.MethodDelete, args[0], nil)
		},
	}
}

func (a *app) mutate(cmd *cobra.Command, method, endpoint string, body json.RawMessage) error {
	send := hooks.Send[json.RawMessage, json.RawMessage](a.client.Requester, method, endpoint)
	if body == nil {
		// a nil RawMessage would be encoded as the JSON literal null
		send = func(ctx context.Context, _ json.RawMessage) result.Result[json.RawMessage] {
			return a.client.Requester.Do(ctx, method, endpoint, nil)
		}
	}

	m := hooks.NewMutation(send, hooks.WithNetwork(a.client.Network))
	defer m.Close()

	return printResult(cmd, m.Mutate(cmd.Context(), body))
}

type productRow struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int    `json:"priceCents"`
	Stock      int    `json:"stock"`
}

func productsCmd(a *app) *cobra.Command {
	var (
		category string
		pageSize int
		page     int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []api.RequestOption
			if category != "" {
				opts = append(opts, api.WithParam("category", category))
			}

			ctx := cmd.Context()
			fetch := hooks.Pages[productRow](a.client.Requester, "/products", opts...)

			if !all {
				res := fetch(ctx, page, pageSize, api.WithCachePreferred())
				pg, ok := res.Data()
				if !ok {
					return resultError(res)
				}
				renderProducts(cmd.OutOrStdout(), pg.Items)
				cmd.Printf("Page %d, %d of %d products.\n", pg.Page, len(pg.Items), pg.Total)
				return nil
			}

			p := hooks.NewPaginated(fetch, pageSize, hooks.WithNetwork(a.client.Network))
			defer p.Close()

			if res := p.Load(ctx); !res.Succeeded() {
				return resultError(res)
			}

			bar := progressbar.NewOptions(p.Total(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Loading products..."),
				progressbar.OptionSetWidth(20),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			_ = bar.Set(len(p.Items()))

			for p.HasNext() {
				if res := p.LoadMore(ctx); !res.Succeeded() {
					return resultError(res)
				}
				_ = bar.Set(len(p.Items()))
			}
			_ = bar.Finish()

			items := p.Items()
			renderProducts(cmd.OutOrStdout(), items)
			cmd.Printf("%d products.\n", len(items))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Only list products in this category")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Products per page")
	cmd.Flags().IntVar(&page, "page", 1, "Page to show")
	cmd.Flags().BoolVar(&all, "all", false, "Load every page")

	return cmd
}

// numbers groups digits for display: 1,234.50
var numbers = message.NewPrinter(language.English)

func renderProducts(w io.Writer, items []productRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Category", "Price", "Stock"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	for _, p := range items {
		table.Append([]string{
			strconv.Itoa(p.ID),
			p.Name,
			p.Category,
			numbers.Sprintf("%.2f", float64(p.PriceCents)/100),
			numbers.Sprintf("%d", p.Stock),
		})
	}

	table.Render()
}

func cacheStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the response cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client.Cache.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading cache: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.Append([]string{"Entries", strconv.Itoa(s.Entries)})
			table.Append([]string{"Expired", strconv.Itoa(s.Expired)})
			table.Append([]string{"Bytes", numbers.Sprintf("%d", s.Bytes)})
			table.Append([]string{"Oldest", formatTime(s.Oldest)})
			table.Append([]string{"Newest", formatTime(s.Newest)})
			table.Render()
			return nil
		},
	}
}

func cacheClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.client.Cache.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			cmd.Printf("Removed %d cached responses.\n", n)
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// printResult writes the payload of a successful result as indented JSON.
func printResult(cmd *cobra.Command, res result.Result[json.RawMessage]) error {
	data, ok := res.Data()
	if !ok {
		return resultError(res)
	}

	if res.FromCache() {
		cmd.PrintErrln("(served from cache)")
	}
	if msg := res.Message(); msg != "" && !res.FromCache() {
		cmd.PrintErrln(msg)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		out.Reset()
		out.Write(data)
	}
	out.WriteByte('\n')

	_, err := cmd.OutOrStdout().Write(out.Bytes())
	return err
}

func resultError[T any](res result.Result[T]) error {
	switch {
	case res.Cancelled():
		return errors.New("request cancelled")
	case res.Queued():
		return fmt.Errorf("not sent: %w", res.Err())
	default:
		log.Debug().Err(res.Err()).Msg("request failed")
		return res.Err()
	}
}

func paramOptions(params []string) ([]api.RequestOption, error) {
	opts := make([]api.RequestOption, 0, len(params))
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", p)
		}
		opts = append(opts, api.WithParam(key, value))
	}
	return opts, nil
}

func readBody(cmd *cobra.Command, data string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data == "":
		return nil, nil
	case data == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}

	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, errors.New("body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.PrintErr("Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		cmd.PrintErrln()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
