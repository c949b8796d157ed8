package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"protocolo/internal/config"
	"protocolo/internal/db"
	"protocolo/internal/domain"
	"protocolo/internal/engine"
	"protocolo/internal/identity"
	"protocolo/internal/migrate"
	"protocolo/internal/repo"
	"protocolo/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "protocolo",
	Short: "Protocolo CLI",
	Long: `Protocolo tracks service protocols from registration to resolution.
Every protocol is numbered sequentially per minute, moves between departments
through an append-only movement ledger, and ends either resolved on the spot
or after being handled by the department it was forwarded to.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROTOCOLO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("email", "", "operator email (role is resolved from config allow-lists)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(proximoCmd())
	rootCmd.AddCommand(protocoloCmd())
	rootCmd.AddCommand(historicoCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default protocolo.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func proximoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proximo",
		Short: "Show the advisory next protocol number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ProximoNumero(ctx)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func protocoloCmd() *cobra.Command {
	p := &cobra.Command{Use: "protocolo", Short: "Manage protocols"}
	p.AddCommand(protocoloCreateCmd())
	p.AddCommand(protocoloListCmd())
	p.AddCommand(protocoloShowCmd())
	p.AddCommand(protocoloEncaminharCmd())
	p.AddCommand(protocoloResolverCmd())
	p.AddCommand(protocoloStatusCmd())
	p.AddCommand(protocoloMovimentosCmd())
	return p
}

func protocoloCreateCmd() *cobra.Command {
	var opts engine.CriacaoOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				email, role, err := principal(e)
				if err != nil {
					return err
				}
				opts.Email = email
				opts.Role = role
				if opts.Numero == "" {
					opts.Numero, err = e.ProximoNumero(ctx)
					if err != nil {
						return err
					}
				}
				created, err := e.CriarProtocolo(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Numero, "numero", "", "protocol number (default: next in the current minute)")
	cmd.Flags().StringVar(&opts.Tipo, "tipo", "", "solicitação, informação or reclamação")
	cmd.Flags().StringVar(&opts.Prestador, "prestador", "", "service provider")
	cmd.Flags().StringVar(&opts.CNPJ, "cnpj", "", "provider CNPJ")
	cmd.Flags().StringVar(&opts.Assunto, "assunto", "", "subject")
	cmd.Flags().StringVar(&opts.Observacao, "observacao", "", "opening report")
	cmd.Flags().StringVar(&opts.Canal, "canal", "", "telefone or email")
	cmd.Flags().StringVar(&opts.Demandante, "demandante", "", "requester")
	cmd.Flags().StringVar(&opts.TipoTratativa, "tratativa", "encaminhado", "imediato or encaminhado")
	cmd.Flags().StringVar(&opts.SecretariaEncaminhada, "secretaria", "", "target department (encaminhado)")
	cmd.Flags().StringVar(&opts.TratativaImediata, "solucao", "", "immediate solution text (imediato)")
	_ = cmd.MarkFlagRequired("tipo")
	_ = cmd.MarkFlagRequired("prestador")
	_ = cmd.MarkFlagRequired("assunto")
	_ = cmd.MarkFlagRequired("canal")
	return cmd
}

func protocoloListCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, role, err := principal(e)
				if err != nil {
					return err
				}
				items, err := e.ListarProtocolos(ctx, role, data)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderProtocolos(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "filter by registration day (YYYY-MM-DD)")
	return cmd
}

func protocoloShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProtocolo(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func protocoloEncaminharCmd() *cobra.Command {
	var secretaria, texto string
	cmd := &cobra.Command{
		Use:   "encaminhar <id>",
		Short: "Forward a protocol to a department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				email, role, err := principal(e)
				if err != nil {
					return err
				}
				p, err := e.AtualizarProtocolo(ctx, engine.AtualizacaoOptions{
					ID:             id,
					Status:         domain.StatusEmAndamento,
					Tratativa:      texto,
					NovaSecretaria: secretaria,
					Email:          email,
					Role:           role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&secretaria, "secretaria", "", "target department")
	cmd.Flags().StringVar(&texto, "texto", "", "forwarding note")
	_ = cmd.MarkFlagRequired("secretaria")
	return cmd
}

func protocoloResolverCmd() *cobra.Command {
	var texto string
	cmd := &cobra.Command{
		Use:   "resolver <id>",
		Short: "Resolve a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				email, role, err := principal(e)
				if err != nil {
					return err
				}
				p, err := e.AtualizarProtocolo(ctx, engine.AtualizacaoOptions{
					ID:        id,
					Status:    domain.StatusResolvido,
					Tratativa: texto,
					Email:     email,
					Role:      role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&texto, "tratativa", "", "final solution text")
	_ = cmd.MarkFlagRequired("tratativa")
	return cmd
}

func protocoloStatusCmd() *cobra.Command {
	var status, texto string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Edit a protocol status directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				email, role, err := principal(e)
				if err != nil {
					return err
				}
				p, err := e.AtualizarProtocolo(ctx, engine.AtualizacaoOptions{
					ID:        id,
					Status:    status,
					Tratativa: texto,
					Email:     email,
					Role:      role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "aberto or em andamento")
	cmd.Flags().StringVar(&texto, "texto", "", "note (defaults to an automatic one)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func protocoloMovimentosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "movimentos <id>",
		Short: "Show a protocol's movement ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, role, err := principal(e)
				if err != nil {
					return err
				}
				movs, err := e.Movimentacoes(ctx, role, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(movs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Quando", "De", "Para", "Responsável", "Observação"})
				for _, m := range movs {
					tw.AppendRow(table.Row{displayTimestamp(m.DataMovimentacao), m.SecretariaOrigem, m.SecretariaDestino, m.UsuarioResponsavel, m.Observacao})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func historicoCmd() *cobra.Command {
	var opts engine.HistoricoOptions
	cmd := &cobra.Command{
		Use:   "historico",
		Short: "Filtered, paginated protocol history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, role, err := principal(e)
				if err != nil {
					return err
				}
				opts.Role = role
				page, err := e.Historico(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				renderProtocolos(page.Data)
				fmt.Printf("page %d of %d (%d protocols)\n", page.Page, page.TotalPages, page.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.DataInicio, "data-inicio", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DataFim, "data-fim", "", "range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Tipo, "tipo", "", "type filter")
	cmd.Flags().StringVar(&opts.Assunto, "assunto", "", "subject substring filter")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "page size")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Registration series and top rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, role, err := principal(e)
				if err != nil {
					return err
				}
				data, err := e.Dashboard(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(data)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Dia", "Tipo", "Total"})
				for _, p := range data.GraficoLinha {
					tw.AppendRow(table.Row{p.Dia, p.Tipo, p.Total})
				}
				tw.Render()
				renderRanking("Abertura", data.RankingAbertura)
				renderRanking("Tratativa", data.RankingTratativa)
				renderRanking("Assuntos", data.RankingAssuntos)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("PROTOCOLO_JWT_SECRET"),
				Resolver:  identity.New(cfg),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PROTOCOLO_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Protocolo API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// principal resolves the operator's role from --email. With no email set the
// local operator acts as admin; this is a local workspace, not the API.
func principal(e engine.Engine) (string, string, error) {
	email := strings.TrimSpace(viper.GetString("email"))
	if email == "" {
		return "local-admin", identity.RoleAdmin, nil
	}
	role, err := e.Identity.Resolve(email)
	if err != nil {
		return "", "", err
	}
	return strings.ToLower(email), role, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid protocol id %q", arg)
	}
	return id, nil
}

func renderProtocolos(items []domain.Protocolo) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Número", "Tipo", "Assunto", "Status", "Secretaria", "Registrado"})
	for _, p := range items {
		secretaria := ""
		if p.SecretariaEncaminhada != nil {
			secretaria = *p.SecretariaEncaminhada
		}
		tw.AppendRow(table.Row{p.ID, p.NumeroProtocolo, p.Tipo, p.Assunto, p.Status, secretaria, displayTimestamp(p.DataRegistro)})
	}
	tw.Render()
}

func renderRanking(title string, items []repo.Ranking) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{title, "Total"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.Chave, r.Total})
	}
	tw.Render()
}

func displayTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Format("02/01/2006 15:04")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
