package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/unixtransport"
	"github.com/peterbourgon/unixtransport/unixproxy"
	"golang.org/x/sync/errgroup"

	"github.com/peterbourgon/trclog/internal/trcutil"
	"github.com/peterbourgon/trclog/trchttp"
)

type serveConfig struct {
	*rootConfig

	listenAddr  string
	requests    int
	concurrency int
	failureRate float64
	seed        uint64
	linger      bool
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen-addr" /*   */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8001") /* */, Usage: "HTTP listen address, or unix:///path/to/socket", Placeholder: "ADDR"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "requests" /*      */, Value: ffval.NewValueDefault(&cfg.requests, 100) /*              */, Usage: "total requests generated against the server", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "concurrency" /*   */, Value: ffval.NewValueDefault(&cfg.concurrency, 4) /*             */, Usage: "concurrent requests", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "failure-rate" /*  */, Value: ffval.NewValueDefault(&cfg.failureRate, 0.1) /*           */, Usage: "fraction of requests that fail", Placeholder: "RATE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "seed" /*          */, Value: ffval.NewValueDefault(&cfg.seed, 1) /*                    */, Usage: "random seed for request generation", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "linger" /*        */, Value: ffval.NewValue(&cfg.linger) /*                            */, Usage: "keep serving after the generated load completes, until interrupted"})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	if cfg.concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}

	ln, err := unixproxy.ListenURI(ctx, cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	cfg.info.Printf("listening on %s", cfg.listenAddr)

	calc := newCalculator(cfg.tracer, cfg.reporter)

	mux := http.NewServeMux()
	mux.Handle("/eval", trchttp.Middleware(cfg.tracer, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		expr := r.URL.Query().Get("expr")
		q, err := calc.eval(ctx, expr)
		if err != nil {
			cfg.reporter.Error(ctx, "eval failed", err, "expr", expr)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, q)
	})))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g run.Group

	// HTTP server.
	{
		g.Add(func() error {
			return server.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	// Load generator.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := cfg.load(ctx, baseURL(ln)); err != nil {
				return err
			}
			if cfg.linger {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}, func(error) {
			cancel()
		})
	}

	// Janitor.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.janitor(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Signal handler.
	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err = g.Run()
	cfg.printStats()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// load generates requests against the server at baseURL. Unix socket URLs are
// supported via unixtransport.
func (cfg *serveConfig) load(ctx context.Context, baseURL string) error {
	transport := &http.Transport{}
	unixtransport.Register(transport)
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	var (
		exprs  = generateExprs(cfg.requests, cfg.failureRate, cfg.seed)
		failed atomic.Uint64
		recvd  atomic.Uint64
		begin  = time.Now()
		g, gc  = errgroup.WithContext(ctx)
	)

	g.SetLimit(cfg.concurrency)

	for _, expr := range exprs {
		expr := expr
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gc, "GET", baseURL+"/eval?expr="+url.QueryEscape(expr), nil)
			if err != nil {
				return err
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("%s: %w", expr, err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			recvd.Add(uint64(len(body)))
			if resp.StatusCode != http.StatusOK {
				failed.Add(1)
			}
			cfg.debug.Printf("%s: HTTP %d: %s", expr, resp.StatusCode, bytes.TrimSpace(body))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	cfg.info.Printf("sent %d request(s), %d failed, received %s, in %s", len(exprs), failed.Load(), trcutil.HumanizeBytes(recvd.Load()), trcutil.HumanizeDuration(time.Since(begin)))

	return nil
}

func baseURL(ln net.Listener) string {
	if ln.Addr().Network() == "unix" {
		return "http+unix://" + ln.Addr().String() + ":"
	}
	return "http://" + ln.Addr().String()
}
