package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/server"
	"github.com/r1hq/r1/internal/service"
)

const banner = `
       _
 _ __ / |
| '__|| |
| |   | |
|_|   |_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the r1 API server",
		Long:  "Start the HTTP server for accounts, prompts, and the API key lifecycle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return runServeDetached()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// runServeDetached re-executes the current binary without --detach, in a new
// session with output redirected to the log file, and records its PID so
// `r1 status` and `r1 stop` can find it.
func runServeDetached() error {
	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a == "--detach" || a == "-d" {
			continue
		}
		args = append(args, a)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with 'r1 stop'.")
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev || viper.GetString("log.level") == "debug" {
		logLevel = slog.LevelDebug
	}
	var logHandler slog.Handler
	if viper.GetString("log.format") == "json" {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logHandler)

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened")

	authSvc, err := newAuthService(st)
	if err != nil {
		st.Close()
		return err
	}
	if viper.GetString("auth.jwt_secret") == "" {
		logger.Warn("auth.jwt_secret is not set - using an insecure development secret")
	}

	keySvc := service.NewKeyService(st)
	m := metrics.New()

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if n := viper.GetInt("rate_limit.login_per_minute"); n > 0 {
		srvCfg.LoginRatePerMinute = n
	}
	if n := viper.GetInt("rate_limit.key_per_minute"); n > 0 {
		srvCfg.KeyRatePerMinute = n
	}

	srv := server.New(srvCfg, st, authSvc, keySvc, m, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Metrics: http://%s:%d/metrics\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
