package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/matter-autocommissioner/internal/config"
	"github.com/backkem/matter-autocommissioner/internal/simdevice"
	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/discovery"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
	"github.com/backkem/matter-autocommissioner/pkg/opcreds"
	"github.com/backkem/matter-autocommissioner/pkg/telemetry"
)

type runOptions struct {
	configPath  string
	profilePath string
	capturePath string
	interactive bool
	findTimeout time.Duration
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Commission a simulated device",
	Long: `Run one commissioning flow against a simulated device.

Without --config the device joins fabric 1 as node 1. Without --profile it
is an Ethernet device reached over UDP.

Examples:
  matter-commission run
  matter-commission run --profile bulb.yaml --config home.yaml --interactive
  matter-commission run --capture trace.cbor --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCommission(ctx, runOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.configPath, "config", "c", "", "Commissioning configuration file (YAML)")
	runCmd.Flags().StringVarP(&runOpts.profilePath, "profile", "p", "", "Simulated device profile (YAML)")
	runCmd.Flags().StringVar(&runOpts.capturePath, "capture", "", "Append a stage trace to this file")
	runCmd.Flags().BoolVarP(&runOpts.interactive, "interactive", "i", false, "Prompt for network credentials when the flow asks for them")
	runCmd.Flags().DurationVar(&runOpts.findTimeout, "find-timeout", discovery.DefaultFindMaxElapsedTime, "How long to look for the device on the operational network")
}

func runCommission(ctx context.Context, opts runOptions, out, errOut io.Writer) error {
	lf, err := newLoggerFactory(errOut)
	if err != nil {
		return err
	}
	log := lf.NewLogger("cli")

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     telemetryEnabled,
		Version:     version,
		Writer:      errOut,
		PrettyPrint: telemetryPretty,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warnf("telemetry shutdown: %v", err)
		}
	}()

	file := &config.File{Fabric: config.Fabric{ID: 1, NodeID: 1}}
	if opts.configPath != "" {
		if file, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	params, err := file.Parameters.Build()
	if err != nil {
		return err
	}
	nodeID := fabric.NodeID(file.Fabric.NodeID)
	params.SetRemoteNodeID(nodeID)
	nonce, err := opcreds.NonceSource{}.AttestationNonce()
	if err != nil {
		return err
	}
	params.SetAttestationNonce(nonce)

	var profile simdevice.Profile
	if opts.profilePath != "" {
		if profile, err = simdevice.LoadProfile(opts.profilePath); err != nil {
			return err
		}
	}

	issuer, err := opcreds.NewIssuer(opcreds.IssuerConfig{
		FabricID:           fabric.FabricID(file.Fabric.ID),
		IntermediateCertID: file.Fabric.IntermediateCertID,
		IPK:                file.Fabric.IPKBytes(),
	})
	if err != nil {
		return err
	}

	mem := discovery.NewMemoryResolver()
	resolver, err := discovery.NewResolver(discovery.ResolverConfig{
		MDNSResolver:  mem,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	finder := discovery.NewFinder(discovery.FinderConfig{
		Resolver:       resolver,
		MaxElapsedTime: opts.findTimeout,
		LoggerFactory:  lf,
	})

	dev, err := simdevice.New(simdevice.Config{
		Profile:       profile,
		Issuer:        issuer,
		NodeID:        nodeID,
		AdminSubject:  file.Fabric.AdminSubject,
		Advertiser:    mem,
		Finder:        finder,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	var recorder capture.Recorder = capture.NoopRecorder{}
	if opts.capturePath != "" {
		fr, err := capture.NewFileRecorder(opts.capturePath)
		if err != nil {
			return err
		}
		defer fr.Close()
		recorder = fr
	}

	var c *commissioning.Commissioner
	callbacks := commissioning.CommissionerCallbacks{
		OnProgress: func(percent int, message string) {
			fmt.Fprintf(out, "[%3d%%] %s\n", percent, message)
		},
	}
	if opts.interactive {
		callbacks.OnNetworkCredentialsNeeded = func() {
			go promptNetworkCredentials(c, log)
		}
	}
	c = commissioning.NewCommissioner(commissioning.CommissionerConfig{
		Executor:            dev,
		CredentialsDelegate: opcreds.NonceSource{},
		LoggerFactory:       lf,
		Recorder:            recorder,
		Parameters:          params,
		Callbacks:           callbacks,
		Timeout:             file.Timeout,
	})

	status, err := c.Commission(ctx, dev.PASESession())
	fmt.Fprintf(out, "result: %s\n", status)
	if err != nil {
		return err
	}
	node, _ := dev.OperationalNodeID()
	fmt.Fprintf(out, "node 0x%X on fabric 0x%X, network %q\n", uint64(node), uint64(issuer.FabricID()), dev.Network())
	return nil
}

// promptNetworkCredentials asks for Wi-Fi credentials, or a Thread
// dataset when the SSID is left empty, and resumes the flow.
func promptNetworkCredentials(c *commissioning.Commissioner, log logging.LeveledLogger) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Wi-Fi SSID (empty for Thread): ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Errorf("failed to create readline: %v", err)
		_ = c.Cancel()
		return
	}
	defer rl.Close()

	ssid, err := rl.Readline()
	if err != nil {
		_ = c.Cancel()
		return
	}
	ssid = strings.TrimSpace(ssid)

	if ssid == "" {
		rl.SetPrompt("Thread dataset (hex): ")
		line, err := rl.Readline()
		if err != nil {
			_ = c.Cancel()
			return
		}
		dataset, err := hex.DecodeString(strings.TrimSpace(line))
		if err != nil {
			log.Errorf("bad dataset: %v", err)
			_ = c.Cancel()
			return
		}
		if err := c.ProvideNetworkCredentials(nil, dataset); err != nil {
			log.Errorf("provide credentials: %v", err)
		}
		return
	}

	pass, err := rl.ReadPassword("Passphrase: ")
	if err != nil {
		_ = c.Cancel()
		return
	}
	creds := &commissioning.WiFiCredentials{SSID: []byte(ssid), Credentials: pass}
	if err := c.ProvideNetworkCredentials(creds, nil); err != nil {
		log.Errorf("provide credentials: %v", err)
	}
}
