package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/svdb-hotmail/domscribr/internal/agent"
	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
)

const blankDocument = "<html><head></head><body></body></html>"

var agentFlags struct {
	contextID string
	file      string
	url       string
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a document context: harvest a page and deliver its messages",
	Long: `agent owns one document. It is loaded from --file (and reloaded whenever
the file changes) or starts blank and is fed by an in-page bridge over NATS.
Recording starts and stops on commands from the aggregator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		contextID := firstNonEmpty(agentFlags.contextID, cfg.ContextID)
		if contextID == "" {
			return errors.New("a context id is required (--context or DOMSCRIBR_CONTEXT_ID)")
		}
		docURL := firstNonEmpty(agentFlags.url, cfg.DocumentURL)

		doc, err := openDocument(docURL, agentFlags.file)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		nc, err := agent.Connect(cfg.NatsURL, "domscribr-agent-"+contextID)
		if err != nil {
			return err
		}
		defer nc.Drain()

		bridge, err := agent.NewBridge(nc, agent.Options{
			Subjects:  events.Subjects{Prefix: cfg.SubjectPrefix},
			ContextID: contextID,
			Document:  doc,
			Timeout:   cfg.RequestTimeout(),
			Metrics:   metrics.New(),
		})
		if err != nil {
			return err
		}

		if agentFlags.file != "" {
			go func() {
				if err := bridge.WatchFile(ctx, agentFlags.file); err != nil {
					slog.Error("file watcher stopped", "error", err)
				}
			}()
		}

		slog.Info("domscribr agent starting", "context_id", contextID, "file", agentFlags.file, "url", docURL)
		return bridge.Run(ctx)
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentFlags.contextID, "context", "", "document context id (overrides DOMSCRIBR_CONTEXT_ID)")
	agentCmd.Flags().StringVar(&agentFlags.file, "file", "", "HTML file to load and watch")
	agentCmd.Flags().StringVar(&agentFlags.url, "url", "", "document URL recorded in captured messages")
	rootCmd.AddCommand(agentCmd)
}

func openDocument(url, path string) (*dom.Document, error) {
	if path == "" {
		return dom.NewDocument(url, strings.NewReader(blankDocument))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	if url == "" {
		url = "file://" + path
	}
	return dom.NewDocument(url, f)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
