// Package cmd wires the process together: configuration, database,
// registry, and HTTP surfaces, following the same manual
// constructor-injection style as the fleet's GetSonosCast/
// CreateSonosCastRouter lazy singletons rather than a DI framework.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pocketbase/dbx"
	"github.com/spf13/cobra"

	"github.com/dlnacast/engine/conf"
	"github.com/dlnacast/engine/core/external"
	"github.com/dlnacast/engine/core/metrics"
	"github.com/dlnacast/engine/core/registry"
	"github.com/dlnacast/engine/core/soaptransport"
	"github.com/dlnacast/engine/db"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/persistence"
	"github.com/dlnacast/engine/server/eventingress"
	"github.com/dlnacast/engine/server/renderapi"
)

var cfgFile string

// Root builds the top-level cobra command, matching the fleet's
// cobra-based CLI entry point.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "dlnacast",
		Short: "DLNA/UPnP MediaRenderer cast control plane",
		RunE:  runServer,
	}
	root.PersistentFlags().StringVar(&cfgFile, "configfile", "", "config file path")
	root.PersistentFlags().String("address", "0.0.0.0", "address to bind to")
	root.PersistentFlags().Int("port", 4533, "port to bind to")
	root.PersistentFlags().String("loglevel", "info", "log level")
	_ = conf.BindFlags(root.PersistentFlags())
	return root
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := conf.Load(cfgFile); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log.SetLevel(conf.Server.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	router, err := buildRouter(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", conf.Server.Address, conf.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "starting dlnacast", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

var registryInstance *registry.Registry

// GetRegistry returns the process-wide Session Registry, constructing it
// (and every collaborator it needs) on first use.
func GetRegistry(ctx context.Context) (*registry.Registry, error) {
	if registryInstance != nil {
		return registryInstance, nil
	}

	conn, err := db.Open(ctx, conf.Server.DevicePairDB)
	if err != nil {
		return nil, fmt.Errorf("opening device pairing database: %w", err)
	}
	dbxDB := dbx.NewFromDB(conn, "sqlite3")

	r := conf.Server.Renderer
	transport := soaptransport.New(r.CommunicationTimeout, r.UserAgent)
	pairings := persistence.NewDevicePairingRepository(ctx, dbxDB)
	profiles := external.NewInMemoryProfileRepository()

	cfg := registry.Config{
		CommunicationTimeout:     r.CommunicationTimeout,
		DevicePollingInterval:    r.DevicePollingInterval,
		QueueProcessingInterval:  r.QueueProcessingInterval,
		UserAgent:                r.UserAgent,
		CallbackBaseURL:          r.BaseURL,
		PhotoTransitionalTimeout: r.PhotoTransitionalTimeout,
		MaxResumePct:             r.MaxResumePct,
	}

	registryInstance = registry.New(ctx, transport, profiles, pairings, noopHost{}, noopResolver{}, noopStreamBuilder{}, noopDIDL{}, cfg)

	stop := make(chan struct{})
	go func() { <-ctx.Done(); close(stop) }()
	source := external.NewStaticDiscoverySource(r.StaticDevices, r.ClientDiscoveryInitial, r.ClientDiscoveryInterval, stop)
	registryInstance.Run(source)

	return registryInstance, nil
}

// noopHost, noopResolver, noopStreamBuilder and noopDIDL stand in for the
// host application's session manager, media source resolver, and
// DIDL-Lite/StreamInfo builders (SPEC_FULL.md §6.3), which this binary
// does not implement. An embedding application replaces these with its
// own collaborators by constructing its own registry.Registry instead of
// calling GetRegistry.
type noopHost struct{}

func (noopHost) LogSessionActivity(string)               {}
func (noopHost) ReportCapabilities(string, []string)     {}
func (noopHost) OnPlaybackStart(external.PlaybackInfo)    {}
func (noopHost) OnPlaybackProgress(external.PlaybackInfo) {}
func (noopHost) OnPlaybackStopped(external.PlaybackInfo)  {}
func (noopHost) ReportSessionEnded(string)                {}

type noopResolver struct{}

func (noopResolver) Resolve(context.Context, []string) ([]external.LibraryItem, error) {
	return nil, nil
}

type noopStreamBuilder struct{}

func (noopStreamBuilder) BuildStream(context.Context, external.LibraryItem, *external.DeviceProfile, int64, int, int) (external.StreamInfo, error) {
	return external.StreamInfo{}, nil
}

func (noopStreamBuilder) BuildImageURL(context.Context, external.LibraryItem) (string, error) {
	return "", nil
}

type noopDIDL struct{}

func (noopDIDL) Build(external.LibraryItem, external.StreamInfo) string { return "" }

func buildRouter(ctx context.Context) (http.Handler, error) {
	reg, err := GetRegistry(ctx)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Mount("/api/renderers", renderapi.New(reg).Routes())
	r.Mount("/Dlna/Eventing", eventingress.New(reg).Routes())
	r.Handle("/metrics", metrics.Handler())

	return r, nil
}
