package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"automailer/attachments"
	"automailer/contacts"
	"automailer/delivery"
	"automailer/dispatch"
	"automailer/health"
	"automailer/internal/audit"
	"automailer/internal/config"
	"automailer/internal/dkim"
	"automailer/internal/metrics"
	"automailer/storage"
	"automailer/templates"
	"automailer/tlsconfig"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "automailer",
		Short: "Send a personalized email to every contact in a CSV file",
		Long: `automailer reads a contact list, fills a per-locale template with each
contact's name and submits the result, with the same attachments, through
an SMTP relay (or Amazon SES). Messages go out one at a time with a pause
between them.

Example:
  automailer                                  # docs/contacts.csv via smtp.gmail.com
  automailer --dry-run --spool-dir ./out      # write .eml files instead of sending
  automailer --pause 5s --workers 2 --debug`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.New(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			setupLogging(cfg, debug)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&debug, "debug", false, "shorthand for --log-level debug")
	return cmd
}

func setupLogging(cfg config.Config, debug bool) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil || debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	if cfg.Audit {
		audit.Set(true)
	}
}

// run wires every component and dispatches the contact list. Errors returned
// before dispatch starts are startup errors; failed sends are only logged.
func run(ctx context.Context, cfg config.Config) error {
	store, err := templates.Load(
		templates.Paths(cfg.Templates.Dir, cfg.Templates.Pattern, cfg.Templates.Locales),
		cfg.Templates.DefaultLocale,
	)
	if err != nil {
		return err
	}

	files, err := attachments.Collect(cfg.AttachmentsDir)
	if err != nil {
		log.Warn("Failed to list attachments, sending without them", "dir", cfg.AttachmentsDir, "err", err)
		files = nil
	}

	rows, err := contacts.Load(cfg.ContactsFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv, ln, err := health.StartHealthServer(cfg.MetricsAddr, reg)
		if err != nil {
			return err
		}
		log.Info("Metrics listening", "addr", ln.Addr().String())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sender, err := buildSender(ctx, cfg)
	if err != nil {
		return err
	}
	signer, err := dkim.New(dkim.Options{
		Domain:     cfg.DKIM.Domain,
		Selector:   cfg.DKIM.Selector,
		KeyPath:    cfg.DKIM.KeyPath,
		PrivateKey: cfg.DKIM.PrivateKey,
	})
	if err != nil {
		return err
	}
	if signer != nil {
		log.Info("DKIM signing enabled", "selector", signer.Selector())
	}

	tx := delivery.NewTransmitter(sender, delivery.TransmitterConfig{
		From:       cfg.Sender.Address,
		FromName:   cfg.Sender.Name,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
	}, delivery.WithSigner(signer), delivery.WithMetrics(m))

	p, err := dispatch.New(dispatch.Config{
		Workers:       cfg.Workers,
		Pause:         cfg.Pause,
		DefaultLocale: cfg.Templates.DefaultLocale,
		Placeholder:   cfg.Templates.Placeholder,
		Subject:       cfg.Subject,
	}, store, files, tx, dispatch.WithMetrics(m))
	if err != nil {
		return err
	}

	log.Info("Starting", "transport", cfg.Transport, "contacts", len(rows),
		"locales", store.Locales(), "attachments", len(files))
	if err := p.Run(ctx, rows); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Dispatch interrupted")
			return nil
		}
		log.Error("Dispatch stopped", "err", err)
	}
	return nil
}

// buildSender returns the transport selected by cfg.Transport.
func buildSender(ctx context.Context, cfg config.Config) (delivery.Sender, error) {
	switch cfg.Transport {
	case config.TransportSMTP:
		tlsConf, err := tlsconfig.ClientConfig(tlsconfig.Options{
			ServerName:         cfg.SMTP.Host,
			CAFile:             cfg.SMTP.CAFile,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		return delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.Sender.Address,
			Password:    cfg.Sender.Password,
			HeloName:    cfg.SMTP.HeloName,
			Timeout:     cfg.SMTP.Timeout,
			TLS:         tlsConf,
			RequireTLS:  cfg.SMTP.RequireTLS,
			ImplicitTLS: cfg.SMTP.ImplicitTLS(),
		}), nil
	case config.TransportSES:
		sender, err := delivery.LoadSESSender(ctx, cfg.SES.Region)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.TransportSpool:
		spool := storage.NewSpool(cfg.SpoolDir)
		log.Info("Dry run, spooling messages", "dir", spool.Dir())
		return delivery.NewSpoolSender(spool), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
