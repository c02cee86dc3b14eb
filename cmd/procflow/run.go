package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	procflow "github.com/drblury/procflow"
	promemitter "github.com/drblury/procflow/telemetry/prometheus"
	"github.com/drblury/procflow/transport"
)

var (
	runInput        string
	runInputFile    string
	runEmitter      string
	runMetricsAddr  string
	runTransport    string
	runEvents       bool
	runSnapshotPath string
	runSuspendAfter time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <definition-file>",
	Short: "Run a definition with the built-in demo handlers",
	Long: `Run parses the definition, registers it together with the demo handlers
and executes one instance until it settles. Interrupting with Ctrl-C cancels
the instance; --suspend-after suspends it instead, so the snapshot written
with --snapshot can be picked up again by the resume command.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runInput, "input", "", "initial data context as a JSON object")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "read the initial data context from a JSON file")
	runCmd.Flags().StringVar(&runEmitter, "emitter", "", "telemetry emitters to attach (comma separated, e.g. otel,prometheus)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	runCmd.Flags().StringVar(&runTransport, "transport", "", "event transport backend (see the transports command)")
	runCmd.Flags().BoolVar(&runEvents, "events", false, "print the engine event stream while running")
	runCmd.Flags().StringVar(&runSnapshotPath, "snapshot", "", "write the final instance snapshot to this file")
	runCmd.Flags().DurationVar(&runSuspendAfter, "suspend-after", 0, "suspend the instance after this duration")
}

func runRun(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if runEmitter != "" {
		conf.Emitter = runEmitter
	}
	if runMetricsAddr != "" {
		conf.MetricsAddr = runMetricsAddr
	}
	if runTransport != "" {
		conf.Transport = runTransport
	}

	def, err := procflow.ParseDefinitionFile(args[0])
	if err != nil {
		return err
	}
	input, err := loadInput(runInput, runInputFile)
	if err != nil {
		return err
	}

	sess, err := newSession(cmd.Context(), conf, runEvents, runSnapshotPath != "")
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.engine.RegisterDefinition(def); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printerDone, err := sess.startEventPrinter(ctx)
	if err != nil {
		return err
	}

	handle, err := sess.engine.Launch(ctx, def.ID, input)
	if err != nil {
		return err
	}
	if runSuspendAfter > 0 {
		timer := time.AfterFunc(runSuspendAfter, handle.Suspend)
		defer timer.Stop()
	}

	return sess.settle(handle, printerDone, runSnapshotPath)
}

// session bundles the engine with the optional event sink and metrics
// endpoint so run and resume assemble their runtime the same way.
type session struct {
	conf        *cliConfig
	logger      procflow.Logger
	engine      *procflow.Engine
	sink        transport.Sink
	printEvents bool
	stopMetrics func()
}

func newSession(ctx context.Context, conf *cliConfig, withEvents, snapshotWanted bool) (*session, error) {
	logger := newLogger(conf)

	emitter, stopMetrics, err := buildTelemetry(conf, logger)
	if err != nil {
		return nil, err
	}

	engineConf := conf.engineConfig()
	engineConf.SnapshotOnFinish = snapshotWanted

	deps := procflow.Dependencies{
		Registry:  demoRegistry(),
		Telemetry: emitter,
	}

	// The in-process channel sink only matters when something subscribes to
	// it, but a broker transport publishes for external consumers too.
	var sink transport.Sink
	if withEvents || conf.Transport != defaultTransport {
		sink, err = transport.Build(ctx, conf.Transport, conf.transportConfig(), procflow.NewWatermillAdapter(logger))
		if err != nil {
			stopMetrics()
			return nil, err
		}
		deps.Events = sink.Publisher
	}

	eng, err := procflow.TryNewEngine(engineConf, logger, deps)
	if err != nil {
		_ = sink.Close()
		stopMetrics()
		return nil, err
	}

	return &session{
		conf:        conf,
		logger:      logger,
		engine:      eng,
		sink:        sink,
		printEvents: withEvents,
		stopMetrics: stopMetrics,
	}, nil
}

func (s *session) close() {
	s.stopMetrics()
}

// startEventPrinter subscribes to the engine's event topic and prints every
// event until the channel closes. Returns nil when events are not enabled.
func (s *session) startEventPrinter(ctx context.Context) (chan struct{}, error) {
	if !s.printEvents || s.sink.Subscriber == nil {
		return nil, nil
	}

	topic := s.engine.Conf.EventTopic
	messages, err := s.sink.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			var event procflow.Event
			if err := procflow.Unmarshal(msg.Payload, &event); err == nil {
				fmt.Println(formatEvent(event))
			}
			msg.Ack()
		}
	}()
	return done, nil
}

// settle waits for the instance without a deadline so cancellation still
// drains in-flight tasks, then closes the event sink and reports. Closing
// the sink ends the printer's subscription once buffered events are out.
func (s *session) settle(handle *procflow.InstanceHandle, printerDone chan struct{}, snapshotPath string) error {
	waitErr := handle.Wait(context.Background())

	_ = s.sink.Close()
	if printerDone != nil {
		<-printerDone
	}
	return report(handle, waitErr, snapshotPath)
}

func formatEvent(event procflow.Event) string {
	label := color.CyanString("%-20s", event.Type)
	switch event.Type {
	case procflow.EventTaskState:
		return fmt.Sprintf("%s #%d %s: %s -> %s", label, event.Seq, event.NodeID, event.From, event.To)
	case procflow.EventInstanceFailed, procflow.EventInstanceStuck:
		return fmt.Sprintf("%s #%d %s", label, event.Seq, event.Error)
	default:
		return fmt.Sprintf("%s #%d %s", label, event.Seq, event.InstanceID)
	}
}

// buildTelemetry assembles the configured emitters. When a metrics address is
// set the Prometheus emitter is built concretely so its scrape endpoint can
// be served; all other emitters come from the registry by name.
func buildTelemetry(conf *cliConfig, logger procflow.Logger) (procflow.TelemetryEmitter, func(), error) {
	stop := func() {}

	var emitters []procflow.TelemetryEmitter
	for _, name := range splitEmitters(conf.Emitter) {
		if conf.MetricsAddr != "" && name == promemitter.EmitterName {
			continue
		}
		emitter, err := procflow.BuildEmitter(name)
		if err != nil {
			return nil, stop, err
		}
		emitters = append(emitters, emitter)
	}

	if conf.MetricsAddr != "" {
		emitter, err := promemitter.New(nil)
		if err != nil {
			return nil, stop, err
		}
		emitters = append(emitters, emitter)
		stop = serveMetrics(conf.MetricsAddr, emitter.Handler(), logger)
	}

	switch len(emitters) {
	case 0:
		return nil, stop, nil
	case 1:
		return emitters[0], stop, nil
	default:
		return procflow.MultiTelemetry(emitters...), stop, nil
	}
}

func serveMetrics(addr string, handler http.Handler, logger procflow.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", err, procflow.LogFields{"addr": addr})
		}
	}()
	logger.Info("Serving Prometheus metrics", procflow.LogFields{"addr": addr, "path": "/metrics"})

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func splitEmitters(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// loadInput parses the initial data context from the flag value or file.
func loadInput(raw, path string) (map[string]any, error) {
	if raw != "" && path != "" {
		return nil, errors.New("--input and --input-file are mutually exclusive")
	}

	data := []byte(raw)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	input := map[string]any{}
	if err := procflow.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input JSON: %w", err)
	}
	return input, nil
}
