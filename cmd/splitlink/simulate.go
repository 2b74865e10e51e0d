package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/splitlink/internal/transport/sim"
	"github.com/srg/splitlink/internal/workqueue"
	"github.com/srg/splitlink/pkg/activity"
	"github.com/srg/splitlink/pkg/connparams"
	"github.com/srg/splitlink/pkg/event"
	"github.com/srg/splitlink/pkg/link"
	"golang.org/x/term"
)

type simulateOptions struct {
	central        int
	peripheral     int
	activity       []time.Duration
	sensorActivity []time.Duration
	duration       time.Duration
	timeout        time.Duration
	fail           []string
	sensors        bool
}

// newSimulateCmd builds the simulate command
func newSimulateCmd() *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the activity state machine against an in-memory link",
		Long: `Runs the connection parameter manager against simulated connections and
prints every activity event and parameter transition as it happens.

Examples:
  # Two central links, one peripheral link, a key press at start and after 3s
  splitlink simulate --activity 0s,3s

  # Short timeout, one link rejecting parameter requests
  splitlink simulate --timeout 2s --activity 0s,1s,5s --fail central-2

  # Sensor activity (only consumed when the keymap has sensors)
  splitlink simulate --sensors --sensor-activity 4s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.central, "central", 2, "Number of connections in the central role")
	cmd.Flags().IntVar(&opts.peripheral, "peripheral", 1, "Number of connections in the peripheral role")
	cmd.Flags().DurationSliceVar(&opts.activity, "activity", []time.Duration{0}, "Offsets of key press events")
	cmd.Flags().DurationSliceVar(&opts.sensorActivity, "sensor-activity", nil, "Offsets of sensor events")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Total run time (0 = inactivity timeout plus 1s after the last event)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Inactivity timeout (overrides config)")
	cmd.Flags().StringSliceVar(&opts.fail, "fail", nil, "Connection IDs that reject parameter requests")
	cmd.Flags().BoolVar(&opts.sensors, "sensors", false, "Keymap has sensors (overrides config)")

	return cmd
}

type scheduledEvent struct {
	at time.Duration
	ev event.Event
}

func buildSchedule(keys, sensors []time.Duration) []scheduledEvent {
	schedule := make([]scheduledEvent, 0, len(keys)+len(sensors))
	for i, at := range keys {
		schedule = append(schedule, scheduledEvent{at: at, ev: event.PositionStateChanged{Position: uint32(i), Pressed: true}})
	}
	for i, at := range sensors {
		schedule = append(schedule, scheduledEvent{at: at, ev: event.SensorEvent{Sensor: uint8(i)}})
	}
	sort.SliceStable(schedule, func(i, j int) bool { return schedule[i].at < schedule[j].at })
	return schedule
}

func openConnections(tr *sim.Transport, central, peripheral int) {
	n := 0
	for i := 1; i <= central; i++ {
		n++
		tr.Add(fmt.Sprintf("central-%d", i), fmt.Sprintf("c0:ff:ee:00:00:%02x", n), link.RoleCentral)
	}
	for i := 1; i <= peripheral; i++ {
		n++
		tr.Add(fmt.Sprintf("peripheral-%d", i), fmt.Sprintf("c0:ff:ee:00:00:%02x", n), link.RolePeripheral)
	}
}

func runSimulate(cmd *cobra.Command, opts *simulateOptions) error {
	if opts.central < 0 || opts.peripheral < 0 {
		return fmt.Errorf("connection counts must not be negative")
	}
	for _, at := range append(append([]time.Duration(nil), opts.activity...), opts.sensorActivity...) {
		if at < 0 {
			return fmt.Errorf("invalid event offset %s: must not be negative", at)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		cfg.InactivityTimeout = opts.timeout
	}
	if cmd.Flags().Changed("sensors") {
		cfg.Sensors = opts.sensors
	}

	logger := configureLogger(cmd, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	color.NoColor = !isTerminal(out)

	tr := sim.New(logger)
	openConnections(tr, opts.central, opts.peripheral)
	for _, id := range opts.fail {
		if err := tr.FailAlways(id, sim.ErrRejected); err != nil {
			return fmt.Errorf("--fail %s: %w", id, err)
		}
	}

	schedule := buildSchedule(opts.activity, opts.sensorActivity)
	duration := opts.duration
	if duration == 0 {
		var last time.Duration
		if len(schedule) > 0 {
			last = schedule[len(schedule)-1].at
		}
		duration = last + cfg.InactivityTimeout + time.Second
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	printer := &transitionPrinter{out: out, start: start}

	queue := workqueue.New(ctx, "activity-expiry", cfg.QueueCapacity, logger)
	defer queue.Close()

	mgr := activity.New(tr,
		activity.WithLogger(logger),
		activity.WithWorkQueue(queue),
		activity.WithInactivityTimeout(cfg.InactivityTimeout),
		activity.WithUpdateTimeout(cfg.UpdateTimeout),
		activity.WithSkipUnchanged(cfg.SkipUnchanged),
		activity.WithObserver(printer.transition),
	)
	defer mgr.Close()

	bus := event.NewBus()
	mgr.Subscribe(bus, cfg.Sensors)

	printer.header(tr, cfg.InactivityTimeout, duration)
	mgr.Start(ctx)

	for _, s := range schedule {
		if s.at > duration {
			break
		}
		if err := sleepUntil(ctx, start.Add(s.at)); err != nil {
			return err
		}
		printer.event(s.ev, bus.Raise(s.ev))
	}

	if err := sleepUntil(ctx, start.Add(duration)); err != nil {
		return err
	}

	printer.summary(mgr.Mode(), mgr.Stats())
	return nil
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// transitionPrinter serializes output from the event loop and the expiry worker.
type transitionPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
}

func (p *transitionPrinter) stamp() string {
	return fmt.Sprintf("[+%7.3fs]", time.Since(p.start).Seconds())
}

func (p *transitionPrinter) header(tr *sim.Transport, timeout, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var conns []string
	tr.ForEachActiveConnection(func(info link.Info) bool {
		conns = append(conns, fmt.Sprintf("%s[%s]", info.ID, info.Role))
		return true
	})
	fmt.Fprintf(p.out, "Simulating %s with inactivity timeout %s for %s\n",
		strings.Join(conns, " "), timeout, duration)
}

func (p *transitionPrinter) event(ev event.Event, d event.Disposition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var desc string
	switch e := ev.(type) {
	case event.PositionStateChanged:
		desc = fmt.Sprintf("key %d pressed", e.Position)
	case event.SensorEvent:
		desc = fmt.Sprintf("sensor %d moved", e.Sensor)
	default:
		desc = string(ev.Class())
	}
	fmt.Fprintf(p.out, "%s %-16s %s\n", p.stamp(), desc, d)
}

func (p *transitionPrinter) transition(r activity.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := color.New(color.FgGreen, color.Bold).Sprint("ACTIVE")
	if r.Mode == connparams.ModeIdle {
		label = color.New(color.FgYellow, color.Bold).Sprint("IDLE  ")
	}

	applied := r.Applied()
	if len(applied) == 0 {
		applied = []string{"none"}
	}
	fmt.Fprintf(p.out, "%s %s %s applied=%s skipped=%d\n",
		p.stamp(), label, r.Params, strings.Join(applied, ","), r.Skipped)

	for _, err := range r.Failed() {
		fmt.Fprintf(p.out, "%s   %s\n", p.stamp(), color.RedString("%v", err))
	}
}

func (p *transitionPrinter) summary(mode connparams.Mode, st activity.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s done: mode=%s events=%d transitions=%d updates=%d failures=%d\n",
		p.stamp(), mode, st.Events, st.Transitions, st.Updates, st.Failures)
}
