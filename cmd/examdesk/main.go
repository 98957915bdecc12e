package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examdesk/internal/cache"
	"github.com/pavelanni/examdesk/internal/config"
	"github.com/pavelanni/examdesk/internal/exam"
	"github.com/pavelanni/examdesk/internal/handler"
	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/report"
	"github.com/pavelanni/examdesk/internal/seed"
	"github.com/pavelanni/examdesk/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examdesk",
		Short:        "Timed multiple-choice and matching exam server",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd(), checkCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examdesk --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("store-url", "examdesk.db", "Store URL: a SQLite path or a postgres:// URL")
	f.String("store-public-credential", "", "Insert-only user:password used to start attempts (PostgreSQL)")
	f.String("store-service-credential", "", "Service user:password for grading, admin and export (PostgreSQL)")
}

func addRedisFlags(f *pflag.FlagSet) {
	f.String("redis-addr", "", "Redis address for the exam cache (empty disables the cache)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("redis-ttl", "5m", "How long cached exams are kept")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(f)
	addRedisFlags(f)
	f.String("admin-secret", "", "Admin shared secret (or set EXAMDESK_ADMIN_SECRET)")
	f.StringSlice("allowed-grades", nil, "Grades students may pick (default: any label like 10 or 10-1)")
	f.StringSliceP("import", "i", nil, "Exam definition files (JSON or YAML) to import at startup")
	f.StringP("lang", "l", "en", "UI language (en, mn)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /exam)")
	f.Bool("secure-cookies", true, "Set Secure flag on admin session cookies")
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as an Excel workbook",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.String("grade", "", "Only export this grade")
	f.String("variant", "", "Only export this variant (A or B)")
	f.String("date-from", "", "Only attempts started on or after this date (YYYY-MM-DD)")
	f.String("date-to", "", "Only attempts started on or before this date (YYYY-MM-DD)")
	f.StringP("lang", "l", "en", "Language of column headers and sheet names (en, mn)")
	f.StringP("output", "o", "", "Output file path (default results_YYYY-MM-DD.xlsx, - for stdout)")
	addLogFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Create or replace exams from JSON or YAML definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	addRedisFlags(f)
	addLogFlags(f)
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and test the store and cache connections",
		RunE:  runCheck,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	addRedisFlags(f)
	f.String("admin-secret", "", "Admin shared secret (or set EXAMDESK_ADMIN_SECRET)")
	addLogFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance. A .env file in the working directory is loaded into the
// environment first; variables already set win.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examdesk")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examdesk")
	v.AddConfigPath("/etc/examdesk")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	setupLogging(cmd)
	return config.FromViper(viperForCmd(cmd))
}

// openStores opens the service store and, for PostgreSQL, a second store on
// the insert-only public credential. With SQLite both are the same store.
func openStores(cfg config.Config) (service, public *store.Store, err error) {
	service, err = store.New(cfg.StoreURL, cfg.ServiceCredential)
	if err != nil {
		return nil, nil, store.Classify("open service store", err)
	}
	if !cfg.IsPostgres() {
		return service, service, nil
	}
	public, err = store.New(cfg.StoreURL, cfg.PublicCredential)
	if err != nil {
		service.Close()
		return nil, nil, store.Classify("open public store", err)
	}
	return service, public, nil
}

func closeStores(service, public *store.Store) {
	if public != service {
		public.Close()
	}
	service.Close()
}

// newExamCache returns the Redis exam cache, or nil when redis-addr is empty.
func newExamCache(ctx context.Context, cfg config.Config, loader cache.ExamLoader) (*cache.ExamCache, func()) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c := cache.New(rdb, loader, cfg.Redis.TTL)
	if err := c.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, exams will be read from the store", "addr", cfg.Redis.Addr, "error", err)
	}
	return c, func() { rdb.Close() }
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	service, public, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(service, public)

	if err := service.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up admin sessions", "error", err)
	}

	var (
		exams       exam.ExamSource = service
		invalidator exam.Invalidator
	)
	examCache, closeCache := newExamCache(ctx, cfg, service)
	defer closeCache()
	if examCache != nil {
		exams, invalidator = examCache, examCache
	}

	catalog := exam.NewCatalog(service, invalidator, cfg.AllowedGrades)
	importer := seed.NewImporter(catalog, service)
	v := viperForCmd(cmd)
	for _, path := range cleanPaths(v.GetStringSlice("import")) {
		if _, err := importer.ImportFile(ctx, path); err != nil {
			return fmt.Errorf("import exams: %w", err)
		}
	}

	gate, err := handler.NewSecretGate(cfg.AdminSecret)
	if err != nil {
		return err
	}

	h := handler.New(handler.Deps{
		Service:  exam.NewService(public, service, exams, exam.Options{AllowedGrades: cfg.AllowedGrades}),
		Catalog:  catalog,
		Store:    service,
		Importer: importer,
		Auth:     gate,
		Config:   cfg,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.Lang))

	basePath := cfg.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	slog.Info("starting server",
		"addr", cfg.Addr,
		"store", storeKind(cfg),
		"lang", cfg.Lang,
		"allowed_grades", cfg.AllowedGrades,
		"redis", cfg.Redis.Addr != "",
		"base_path", basePath,
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	v := viperForCmd(cmd)

	f := model.AttemptFilter{
		Grade:   v.GetString("grade"),
		Variant: model.Variant(strings.ToUpper(v.GetString("variant"))),
	}
	if f.Variant != "" && !f.Variant.Valid() {
		return fmt.Errorf("variant must be A or B, got %q", f.Variant)
	}
	if f.DateFrom, err = parseDay(v.GetString("date-from"), false); err != nil {
		return err
	}
	if f.DateTo, err = parseDay(v.GetString("date-to"), true); err != nil {
		return err
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocale(context.Background(), appI18n.NewLocale(cfg.Lang))
	labels := report.NewLabels(func(id string, data map[string]any) string {
		return appI18n.Td(ctx, id, data)
	})

	db, err := store.New(cfg.StoreURL, cfg.ServiceCredential)
	if err != nil {
		return store.Classify("open store", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := report.Export(ctx, db, f, labels, &buf); err != nil {
		return err
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = report.Filename(time.Now())
	}
	if outPath == "-" {
		_, err = buf.WriteTo(os.Stdout)
		return err
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported results", "path", outPath, "bytes", buf.Len())
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	ctx := context.Background()

	db, err := store.New(cfg.StoreURL, cfg.ServiceCredential)
	if err != nil {
		return store.Classify("open store", err)
	}
	defer db.Close()

	var invalidator exam.Invalidator
	examCache, closeCache := newExamCache(ctx, cfg, db)
	defer closeCache()
	if examCache != nil {
		invalidator = examCache
	}

	importer := seed.NewImporter(exam.NewCatalog(db, invalidator, nil), db)
	for _, path := range args {
		res, err := importer.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		switch {
		case res.Skipped:
			fmt.Printf("%s: unchanged, skipped\n", path)
		default:
			fmt.Printf("%s: %d created, %d updated\n", path, res.Created, res.Updated)
		}
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fmt.Println("configuration: ok")

	service, public, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(service, public)

	if _, err := service.ListExams(ctx, "", ""); err != nil {
		return store.Classify("read exams", err)
	}
	fmt.Printf("store (%s, service credential): ok\n", storeKind(cfg))
	if public != service {
		if err := public.Ping(ctx); err != nil {
			return store.Classify("ping public store", err)
		}
		fmt.Println("store (public credential): ok")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := cache.New(rdb, service, cfg.Redis.TTL).Ping(ctx); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		fmt.Println("redis: ok")
	}
	return nil
}

func storeKind(cfg config.Config) string {
	if cfg.IsPostgres() {
		return "postgres"
	}
	return "sqlite"
}

// parseDay parses YYYY-MM-DD. endOfDay moves the result to the last instant
// of that day.
func parseDay(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("date %q is not YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func cleanPaths(in []string) []string {
	var out []string
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
