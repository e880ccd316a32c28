// Command tesoro runs the secret-reveal mutating admission webhook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/kapicorp/tesoro/pkg/admission"
	"github.com/kapicorp/tesoro/pkg/config"
	"github.com/kapicorp/tesoro/pkg/eligibility"
	"github.com/kapicorp/tesoro/pkg/logging"
	"github.com/kapicorp/tesoro/pkg/metrics"
	"github.com/kapicorp/tesoro/pkg/patch"
	"github.com/kapicorp/tesoro/pkg/refs"
	"github.com/kapicorp/tesoro/pkg/reveal"
	"github.com/kapicorp/tesoro/pkg/server"
)

func main() {
	fs := flag.NewFlagSet("tesoro", flag.ExitOnError)
	f := bindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(config.NewLoader(), fs, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tesoro: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tesoro: %v\n", err)
		os.Exit(1)
	}
	ctrl.SetLogger(log)

	if err := run(ctrl.SetupSignalHandler(), cfg); err != nil {
		log.Error(err, "tesoro exited with error")
		os.Exit(1)
	}
}

// run wires the pipeline and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	log := ctrl.Log.WithName("tesoro")

	recorder := metrics.NewRecorder(ctrlmetrics.Registry)
	backend := refs.NewEmbedded()

	invoker := reveal.NewInvoker(backend,
		reveal.WithAttempts(cfg.Reveal.Attempts),
		reveal.WithAttemptTimeout(cfg.Reveal.AttemptTimeout),
		reveal.WithBackoff(wait.Backoff{
			Duration: cfg.Reveal.RetryDelay,
			Factor:   cfg.Reveal.RetryFactor,
		}),
		reveal.WithRetryHook(recorder.RetryHook()),
		reveal.WithLogger(log.WithName("reveal")),
	)

	redactor := patch.NewRedactor()
	redactor.Allow = cfg.Redaction.AllowPaths

	handler := admission.NewHandler(admission.Config{
		Backend: backend,
		Invoker: invoker,
		Classifier: &eligibility.Classifier{
			Prefix:       cfg.Eligibility.LabelPrefix,
			Key:          cfg.Eligibility.LabelKey,
			EnabledValue: cfg.Eligibility.EnabledValue,
		},
		Redactor:      redactor,
		Recorder:      recorder,
		LogUnredacted: !cfg.Logging.Redact,
		Log:           log,
	})

	srv := server.New(server.Options{
		Config:    cfg.Server,
		AccessLog: cfg.Logging.AccessLog,
		Handler:   handler,
		Recorder:  recorder,
		Log:       log,
	})

	log.Info("starting tesoro",
		"address", cfg.Server.Address(),
		"tls", cfg.Server.TLSEnabled(),
		"revealAttempts", cfg.Reveal.Attempts,
		"redactLogs", cfg.Logging.Redact,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if cfg.Metrics.Enabled {
		m := server.NewMetricsServer(cfg.Metrics, ctrlmetrics.Registry, log)
		g.Go(func() error { return m.Start(ctx) })
	}
	return g.Wait()
}

// flags holds command-line values. Only flags set explicitly override the
// file and environment configuration.
type flags struct {
	configFile      string
	verbose         bool
	verboseNoRedact bool
	accessLog       bool
	host            string
	port            int
	certFile        string
	keyFile         string
	caFile          string
	caPath          string
	requireClient   bool
	metricsHost     string
	metricsPort     int
	revealRetries   int
	revealTimeout   time.Duration
}

func bindFlags(fs *flag.FlagSet) *flags {
	f := &flags{}
	def := config.Default()
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML configuration file")
	fs.BoolVar(&f.verbose, "verbose", false, "Log at debug level, with patch values redacted")
	fs.BoolVar(&f.verboseNoRedact, "verbose-no-redact", false, "Log patch values without redaction")
	fs.BoolVar(&f.accessLog, "access-log", false, "Log every HTTP request")
	fs.StringVar(&f.host, "host", def.Server.Host, "Address to listen on")
	fs.IntVar(&f.port, "port", def.Server.Port, "Port to listen on")
	fs.StringVar(&f.certFile, "cert-file", "", "TLS certificate file")
	fs.StringVar(&f.keyFile, "key-file", "", "TLS private key file")
	fs.StringVar(&f.caFile, "ca-file", "", "CA bundle used to verify client certificates")
	fs.StringVar(&f.caPath, "ca-path", "", "Directory of CA certificates used to verify client certificates")
	fs.BoolVar(&f.requireClient, "require-client-cert", false, "Reject clients that present no certificate")
	fs.StringVar(&f.metricsHost, "metrics-host", def.Metrics.Host, "Address of the metrics listener")
	fs.IntVar(&f.metricsPort, "metrics-port", def.Metrics.Port, "Port of the metrics listener")
	fs.IntVar(&f.revealRetries, "reveal-retries", def.Reveal.Attempts, "Reveal attempts before denying a request")
	fs.DurationVar(&f.revealTimeout, "reveal-timeout", 0, "Timeout of a single reveal attempt (0 disables)")
	return f
}

// loadConfig merges defaults, file, environment and explicitly set flags.
func loadConfig(loader *config.Loader, fs *flag.FlagSet, f *flags) (*config.Config, error) {
	cfg := config.Default()
	if err := loader.LoadFile(cfg, f.configFile); err != nil {
		return nil, err
	}
	if err := loader.LoadEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "verbose":
			if f.verbose {
				cfg.Logging.Level = "debug"
			}
		case "verbose-no-redact":
			cfg.Logging.Redact = !f.verboseNoRedact
		case "access-log":
			cfg.Logging.AccessLog = f.accessLog
		case "host":
			cfg.Server.Host = f.host
		case "port":
			cfg.Server.Port = f.port
		case "cert-file":
			cfg.Server.CertFile = f.certFile
		case "key-file":
			cfg.Server.KeyFile = f.keyFile
		case "ca-file":
			cfg.Server.CAFile = f.caFile
		case "ca-path":
			cfg.Server.CAPath = f.caPath
		case "require-client-cert":
			cfg.Server.RequireClientCert = f.requireClient
		case "metrics-host":
			cfg.Metrics.Host = f.metricsHost
		case "metrics-port":
			cfg.Metrics.Port = f.metricsPort
		case "reveal-retries":
			cfg.Reveal.Attempts = f.revealRetries
		case "reveal-timeout":
			cfg.Reveal.AttemptTimeout = f.revealTimeout
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
