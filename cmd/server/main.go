package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/claim/placement"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
	persistlog "landclaim.ai/internal/persistence/log"
	"landclaim.ai/internal/transport/ws"
)

type serverOptions struct {
	Addr            string
	ConfigPath      string
	LangDir         string
	DataDir         string
	DisableDB       bool
	IndexBackend    string
	EnableAdminHTTP bool
	ChecksPerSecond int
	WSAnyOrigin     bool

	// Listener, when set, is used instead of listening on Addr.
	Listener net.Listener
}

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	st, err := loadSettings()
	if err != nil {
		logger.Fatalf("settings: %v", err)
	}
	var (
		addr       = flag.String("addr", st.Addr, "http listen address")
		configPath = flag.String("config", st.ConfigPath, "path to claims.yaml (missing file uses built-in defaults)")
		langDir    = flag.String("lang", st.LangDir, "directory of <locale>.yaml message files (empty uses built-in messages)")
		dataDir    = flag.String("data", st.DataDir, "runtime data directory")
		disableDB  = flag.Bool("disable_db", st.DisableDB, "disable the sqlite decision index")
		perSecond  = flag.Int("checks_per_second", st.ChecksPerSecond, "per-session CHECK limit (0 disables)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, serverOptions{
		Addr:            *addr,
		ConfigPath:      *configPath,
		LangDir:         *langDir,
		DataDir:         *dataDir,
		DisableDB:       *disableDB,
		IndexBackend:    st.IndexBackend,
		EnableAdminHTTP: st.EnableAdminHTTP,
		ChecksPerSecond: *perSecond,
		WSAnyOrigin:     st.WSAnyOrigin,
	}, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Printf("stopped")
}

func run(ctx context.Context, opts serverOptions, logger *log.Logger) error {
	cfg, err := loadClaimConfig(opts.ConfigPath, logger)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(opts.LangDir)
	if err != nil {
		return err
	}

	idx, err := openRuntimeIndex(opts.DataDir, opts.IndexBackend, opts.DisableDB)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
	}
	decisions := persistlog.NewDecisionLogger(opts.DataDir)
	defer decisions.Close()

	recs := gate.Recorders{decisions}
	if idx != nil {
		recs = append(recs, idx)
	}
	g := gate.New(cfg, cat, recs, logger)
	if err := recordConfig(idx, cfg); err != nil {
		logger.Printf("index backend: record config: %v", err)
	}

	wsSrv := ws.NewServer(g, logger)
	wsSrv.ChecksPerSecond = opts.ChecksPerSecond
	wsSrv.AllowAnyOrigin = opts.WSAnyOrigin

	rl := &reloader{path: opts.ConfigPath, gate: g, idx: idx, log: logger}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           newMux(g, wsSrv, idx, rl, opts.EnableAdminHTTP, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln := opts.Listener
	if ln == nil {
		if ln, err = net.Listen("tcp", opts.Addr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Printf("listening on %s rule=%s locales=%v", ln.Addr(), placement.ModeFrom(cfg), cat.Locales())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	// Websocket sessions are hijacked and invisible to srv.Shutdown; they
	// must be gone before the deferred recorder closes run.
	eg.Go(func() error {
		<-gctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(ctx2)
		if werr := wsSrv.Shutdown(ctx2); err == nil {
			err = werr
		}
		return err
	})
	eg.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if _, err := rl.Reload(); err != nil {
					logger.Printf("reload: %v (keeping previous config)", err)
				}
			}
		}
	})
	return eg.Wait()
}

func loadClaimConfig(path string, logger *log.Logger) (*config.Tree, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Printf("claims config not found (%s); using defaults", path)
		cfg = config.Defaults()
	}
	for _, is := range cfg.Issues() {
		logger.Printf("claims config: %s (using default)", is)
	}
	return cfg, nil
}

func loadCatalog(dir string) (*lang.Catalog, error) {
	if dir == "" {
		return lang.Default()
	}
	cat, err := lang.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return cat, nil
}

// reloader re-reads the claim config and swaps it into the gate. A config
// that fails to load leaves the active one in place.
type reloader struct {
	path string
	gate *gate.Gate
	idx  runtimeIndex
	log  *log.Logger

	mu sync.Mutex
}

func (r *reloader) Reload() (*config.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := loadClaimConfig(r.path, r.log)
	if err != nil {
		return nil, err
	}
	prev := r.gate.Config()
	r.gate.Reload(cfg)
	if err := recordConfig(r.idx, cfg); err != nil {
		r.log.Printf("index backend: record config: %v", err)
	}
	r.log.Printf("config reloaded digest=%s rule=%s (was %s)", cfg.Digest()[:12], placement.ModeFrom(cfg), placement.ModeFrom(prev))
	return cfg, nil
}
