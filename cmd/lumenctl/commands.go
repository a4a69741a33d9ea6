package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/lumen/internal/command"
	"github.com/muurk/lumen/internal/config"
	"github.com/muurk/lumen/internal/controller"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
	"github.com/muurk/lumen/internal/ui"
)

// Global flags
var (
	configPath string
	window     time.Duration
	timeout    time.Duration
	deviceSel  string
	broadcast  string
	logLevel   string
)

// cfg is the loaded configuration with flag overrides applied.
var cfg *config.Config

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: platform config dir)")
	pf.DurationVar(&window, "window", 0, "Discovery window (e.g. 3s)")
	pf.DurationVar(&timeout, "timeout", 0, "Per-request reply timeout (e.g. 500ms)")
	pf.StringVar(&deviceSel, "device", "", "Target light: list index or device id")
	pf.StringVar(&broadcast, "broadcast", "", "Broadcast address for discovery")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from LUMEN_LOG_LEVEL")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(colorCmd)
	rootCmd.AddCommand(stateCmd)
}

// setup loads the configuration, applies flag overrides and starts logging.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("window") {
		cfg.Discovery.Window = window
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Request.Timeout = timeout
		cfg.Labels.Timeout = timeout
	}
	if broadcast != "" {
		cfg.Transport.Broadcast = broadcast
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	var outputs []string
	if cfg.Logging.File != "" {
		outputs = append(outputs, cfg.Logging.File)
	}
	return logging.Initialize(level, outputs...)
}

func openController() (*controller.Controller, error) {
	c, err := controller.Open(cfg, controller.WithLogger(logging.GetLogger()))
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func scanParams() []ui.Param {
	return []ui.Param{
		{Key: "Broadcast", Value: cfg.BroadcastAddr().String()},
		{Key: "Window", Value: cfg.Discovery.Window.String()},
	}
}

// scanCmd discovers lights without fetching labels
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover lights on the network",
	Long: `Broadcast a discovery request and list every light that answers
within the discovery window. Labels are not fetched; use 'list' for that.`,
	Example: `  # Default 2-second window
  lumenctl scan

  # Longer window for busy networks
  lumenctl scan --window 5s

  # Directed broadcast on one subnet
  lumenctl scan --broadcast 192.168.1.255`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Device scan", "lumenctl scan", scanParams()...)

	c, err := openController()
	if err != nil {
		p.PrintError("Could not open socket", err)
		return err
	}
	defer c.Close()

	devices, err := c.Discover(cmd.Context())
	if err != nil {
		p.PrintError("Discovery failed", err)
		return err
	}
	p.PrintStep("Discover lights", nil, fmt.Sprintf("%d found", len(devices)))
	p.Newline()
	p.PrintDevices(devices)
	return nil
}

// listCmd discovers lights and fetches their labels
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Discover lights and show their labels",
	Long: `Discover lights, fetch each light's label, and print the registry.

The index in the first column is what --device accepts. Indexes are only
stable within one run; device ids are stable across runs.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Lights", "lumenctl list", scanParams()...)

	c, err := openController()
	if err != nil {
		p.PrintError("Could not open socket", err)
		return err
	}
	defer c.Close()

	if err := c.DiscoverAndPopulate(cmd.Context()); err != nil {
		p.PrintError("Discovery failed", err)
		return err
	}
	p.PrintDevices(c.Registry().Devices())
	return nil
}

// powerCmd switches one light on or off
var powerCmd = &cobra.Command{
	Use:       "power on|off",
	Short:     "Switch a light on or off",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	Example: `  # The only light on the network
  lumenctl power on

  # By index from 'lumenctl list'
  lumenctl power off --device 2

  # By device id
  lumenctl power on --device d073d5001337`,
	RunE: runPower,
}

func runPower(cmd *cobra.Command, args []string) error {
	on := args[0] == "on"
	return runCommand(cmd, "Power "+args[0], func(c *controller.Controller, index int, done func(error)) error {
		return c.SetPower(index, on, done)
	})
}

// Color command flags
var (
	hueDeg     float64
	satPct     float64
	brightPct  float64
	kelvin     int
	transition time.Duration
)

// colorCmd sets one light's color, switching it on first
var colorCmd = &cobra.Command{
	Use:   "color",
	Short: "Set a light's color",
	Long: `Switch a light on and set its color.

Power is sent first. If the color change is lost the light is left on with
its previous color and the command reports which step failed.`,
	Example: `  # Warm white at half brightness
  lumenctl color --saturation 0 --brightness 50 --kelvin 2700

  # Deep blue on light 1, fading over a second
  lumenctl color --device 1 --hue 240 --saturation 100 --transition 1s`,
	Args: cobra.NoArgs,
	RunE: runColor,
}

func init() {
	f := colorCmd.Flags()
	f.Float64Var(&hueDeg, "hue", 0, "Hue in degrees (0-360)")
	f.Float64Var(&satPct, "saturation", 100, "Saturation in percent (0-100)")
	f.Float64Var(&brightPct, "brightness", 100, "Brightness in percent (0-100)")
	f.IntVar(&kelvin, "kelvin", 3500, fmt.Sprintf("Color temperature (%d-%d)", protocol.KelvinMin, protocol.KelvinMax))
	f.DurationVar(&transition, "transition", 0, "Fade duration (default from config)")
}

func runColor(cmd *cobra.Command, args []string) error {
	color, err := parseColor(hueDeg, satPct, brightPct, kelvin)
	if err != nil {
		return err
	}
	fade := cfg.Command.Transition
	if cmd.Flags().Changed("transition") {
		fade = transition
	}
	job := command.NewJob(true, color, fade)
	return runCommand(cmd, "Set color", func(c *controller.Controller, index int, done func(error)) error {
		return c.Apply(index, job, done)
	})
}

// stateCmd reads one light's current power and color
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show a light's current power and color",
	Example: `  # The only light on the network
  lumenctl state

  # By index from 'lumenctl list'
  lumenctl state --device 1`,
	Args: cobra.NoArgs,
	RunE: runState,
}

func runState(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	ctx := cmd.Context()

	c, err := openController()
	if err != nil {
		p.PrintError("Light state", err)
		return err
	}
	defer c.Close()

	if err := c.DiscoverAndPopulate(ctx); err != nil {
		p.PrintError("Light state", err)
		return err
	}
	index, err := selectDevice(c)
	if err != nil {
		p.PrintError("Light state", err)
		return err
	}
	dev, _ := c.Registry().Lookup(index)

	st, err := c.State(ctx, index)
	if err != nil {
		p.PrintError("Light state", err)
		return err
	}
	p.PrintSuccess("Light state", append([]ui.Param{
		{Key: "Light", Value: dev.DisplayName()},
		{Key: "Address", Value: dev.HostPort()},
		{Key: "Power", Value: st.Power.String()},
	}, colorParams(st.Color)...)...)
	return nil
}

// runCommand discovers, resolves --device and submits one command, then
// waits for its outcome.
func runCommand(cmd *cobra.Command, title string, submit func(*controller.Controller, int, func(error)) error) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	ctx := cmd.Context()

	c, err := openController()
	if err != nil {
		p.PrintError(title, err)
		return err
	}
	defer c.Close()

	if err := c.DiscoverAndPopulate(ctx); err != nil {
		p.PrintError(title, err)
		return err
	}
	index, err := selectDevice(c)
	if err != nil {
		p.PrintError(title, err)
		return err
	}
	dev, _ := c.Registry().Lookup(index)

	result := make(chan error, 1)
	if err := submit(c, index, func(err error) { result <- err }); err != nil {
		p.PrintError(title, err)
		return err
	}
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		p.PrintError(title, err)
		return err
	}
	p.PrintSuccess(title,
		ui.Param{Key: "Light", Value: dev.DisplayName()},
		ui.Param{Key: "Address", Value: dev.HostPort()},
	)
	return nil
}

// selectDevice resolves --device, or picks the only light when there is one.
func selectDevice(c *controller.Controller) (int, error) {
	if deviceSel != "" {
		return c.ResolveDevice(deviceSel)
	}
	switch n := c.Registry().Len(); n {
	case 0:
		return 0, fmt.Errorf("no lights found on %s", cfg.BroadcastAddr())
	case 1:
		return 0, nil
	default:
		return 0, fmt.Errorf("%d lights found; choose one with --device (see 'lumenctl list')", n)
	}
}

// colorParams renders a wire color in the units parseColor accepts.
func colorParams(c protocol.HSBK) []ui.Param {
	return []ui.Param{
		{Key: "Hue", Value: fmt.Sprintf("%.0f°", float64(c.Hue)*360/0x10000)},
		{Key: "Saturation", Value: fmt.Sprintf("%.0f%%", float64(c.Saturation)*100/0xffff)},
		{Key: "Brightness", Value: fmt.Sprintf("%.0f%%", float64(c.Brightness)*100/0xffff)},
		{Key: "Kelvin", Value: fmt.Sprintf("%dK", c.Kelvin)},
	}
}

// parseColor converts user units into the wire color.
func parseColor(hue, sat, bright float64, k int) (protocol.HSBK, error) {
	switch {
	case hue < 0 || hue > 360:
		return protocol.HSBK{}, fmt.Errorf("hue %.1f outside 0-360", hue)
	case sat < 0 || sat > 100:
		return protocol.HSBK{}, fmt.Errorf("saturation %.1f outside 0-100", sat)
	case bright < 0 || bright > 100:
		return protocol.HSBK{}, fmt.Errorf("brightness %.1f outside 0-100", bright)
	case k < protocol.KelvinMin || k > protocol.KelvinMax:
		return protocol.HSBK{}, fmt.Errorf("kelvin %d outside %d-%d", k, protocol.KelvinMin, protocol.KelvinMax)
	}
	if hue == 360 {
		hue = 0
	}
	return protocol.HSBK{
		Hue:        uint16(hue / 360 * 0x10000),
		Saturation: uint16(sat/100*0xffff + 0.5),
		Brightness: uint16(bright/100*0xffff + 0.5),
		Kelvin:     uint16(k),
	}, nil
}
