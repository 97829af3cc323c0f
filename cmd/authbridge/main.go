// Command authbridge sends one request through a fully wired client:
//
//	authbridge [flags] METHOD PATH [BODY]
//
// Credentials persist in a SQLite database or an encrypted file between
// runs, so a token refreshed by one invocation is reused by the next.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	authbridge "github.com/opengovern/resilient-authbridge"
	"github.com/opengovern/resilient-authbridge/store"
	"github.com/opengovern/resilient-authbridge/utils"
)

type options struct {
	configPath string
	storeKind  string
	storePath  string
	access     string
	refresh    string
	logFile    string
	debug      bool
	retry      bool
	headers    []string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.storeKind, "store", "sqlite", "credential store: sqlite, file or memory")
	flag.StringVar(&opts.storePath, "store-path", "", "credential store location (default under the user config dir)")
	flag.StringVar(&opts.access, "access", "", "seed the store with this access token")
	flag.StringVar(&opts.refresh, "refresh", "", "seed the store with this refresh token")
	flag.StringVar(&opts.logFile, "log-file", "", "write logs to this rotating file instead of stderr")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&opts.retry, "retry", false, "allow retries for POST and PATCH")
	flag.StringArrayVarP(&opts.headers, "header", "H", nil, "extra request header, 'Key: Value'")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: authbridge [flags] METHOD PATH [BODY]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if errLoad := godotenv.Load(".env"); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	if flag.NArg() < 2 || flag.NArg() > 3 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args()); err != nil {
		var nerr *authbridge.NormalizedError
		if errors.As(err, &nerr) {
			out, _ := json.MarshalIndent(nerr, "", "  ")
			fmt.Println(string(out))
			os.Exit(1)
		}
		log.WithError(err).Fatal("authbridge failed")
	}
}

func run(ctx context.Context, opts options, args []string) error {
	logger := log.StandardLogger()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if opts.logFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.logFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		writer := &lumberjack.Logger{Filename: opts.logFile, MaxSize: 10, MaxBackups: 3, Compress: true}
		defer writer.Close()
		logger.SetOutput(writer)
	}

	cfg, err := authbridge.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	cfg.Logger = logger
	cfg.OnLogout = authbridge.LogoutFunc(func(_ context.Context, ev authbridge.LogoutEvent) {
		fmt.Fprintf(os.Stderr, "session ended, log in again at %s\n", ev.LoginURL)
	})

	st, closeStore, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()
	cfg.Store = st

	if opts.access != "" || opts.refresh != "" {
		if err := st.Set(ctx, store.Credentials{AccessToken: opts.access, RefreshToken: opts.refresh}); err != nil {
			return fmt.Errorf("seed credentials: %w", err)
		}
	}

	if creds, err := st.Get(ctx); err == nil && creds.HasAccessToken() && utils.IsExpired(creds.AccessToken, time.Now(), 0) {
		logger.Info("stored access token has expired, the first request will refresh it")
	}

	client, err := authbridge.NewClient(cfg)
	if err != nil {
		return err
	}

	req := &authbridge.NormalizedRequest{
		Method:             args[0],
		Endpoint:           args[1],
		Headers:            parseHeaders(opts.headers),
		RetryNonIdempotent: opts.retry,
	}
	if len(args) == 3 {
		req.Body, err = readBody(args[2])
		if err != nil {
			return err
		}
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "HTTP %d\n", resp.StatusCode)
	var pretty bytes.Buffer
	if json.Indent(&pretty, resp.Data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(resp.Data))
	}
	return nil
}

func openStore(ctx context.Context, opts options) (store.CredentialStore, func(), error) {
	noop := func() {}
	path := opts.storePath

	switch opts.storeKind {
	case "memory":
		return store.NewMemoryStore(store.Credentials{}), noop, nil
	case "sqlite":
		if path == "" {
			path = defaultStorePath("credentials.db")
		}
		s, err := store.OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "file":
		if path == "" {
			path = defaultStorePath("credentials.bin")
		}
		pass := os.Getenv("AUTHBRIDGE_STORE_PASSPHRASE")
		s, err := store.OpenFileStore(path, []byte(pass))
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store %q", opts.storeKind)
	}
}

func defaultStorePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, "authbridge")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, name)
}

func parseHeaders(raw []string) map[string]string {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

// readBody accepts inline JSON, @file, or - for stdin.
func readBody(arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(os.Stdin)
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		return []byte(arg), nil
	}
}
