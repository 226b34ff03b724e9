package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/isoch/hciev"
	"github.com/srg/isoch/internal/groutine"
	"github.com/srg/isoch/internal/reasm"
	"github.com/srg/isoch/iso"
	"github.com/srg/isoch/pkg/config"
	"gopkg.in/yaml.v3"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Replay a scripted controller session through the manager",
	Long: `Drive the isochronous channel manager with a YAML-scripted
controller session: lifecycle operations, canned completion payloads,
subevents and ISO data packets. Prints callback activity while running
and the manager's diagnostic dump at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("config", "", "Optional tool configuration file (YAML)")
}

type replayPair struct {
	Cis uint16 `yaml:"cis"`
	Acl uint16 `yaml:"acl"`
}

type replayStep struct {
	Op          string       `yaml:"op"`
	CigID       uint8        `yaml:"cig_id"`
	BigHandle   uint8        `yaml:"big_handle"`
	SduInterval uint32       `yaml:"sdu_interval"`
	CisCount    int          `yaml:"cis_count"`
	NumBis      uint8        `yaml:"num_bis"`
	Handle      uint16       `yaml:"handle"`
	Reason      uint8        `yaml:"reason"`
	Count       uint16       `yaml:"count"`
	Code        uint8        `yaml:"code"`
	Direction   uint8        `yaml:"direction"`
	Force       bool         `yaml:"force"`
	Pairs       []replayPair `yaml:"pairs"`
	Payload     string       `yaml:"payload"`
	Completion  string       `yaml:"completion"`
}

type replayScript struct {
	Buffer struct {
		Credits uint16 `yaml:"credits" default:"8"`
		Size    uint16 `yaml:"size" default:"247"`
	} `yaml:"buffer"`
	Steps []replayStep `yaml:"steps"`
}

// scriptTransport records every issued command and completes them with the
// payloads the script provides, in issue order.
type scriptTransport struct {
	out     io.Writer
	pending []func(ret []byte)
}

func (t *scriptTransport) EnqueueCommand(opcode uint16, params []byte, onComplete func(ret []byte)) {
	color.New(color.FgYellow).Fprintf(t.out, "> cmd 0x%04X  %X\n", opcode, params)
	if onComplete != nil {
		t.pending = append(t.pending, onComplete)
	}
}

func (t *scriptTransport) SendData(pkt []byte) error {
	color.New(color.FgYellow).Fprintf(t.out, "> iso  %X\n", pkt)
	return nil
}

func (t *scriptTransport) complete(ret []byte) error {
	if len(t.pending) == 0 {
		return fmt.Errorf("completion provided but no command pending")
	}
	cb := t.pending[0]
	t.pending = t.pending[1:]
	cb(ret)
	return nil
}

// replayCallbacks prints every manager callback and feeds data events into
// the sink.
type replayCallbacks struct {
	out  io.Writer
	sink *iso.DataSink
}

func (c *replayCallbacks) event(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(c.out, "< "+format+"\n", args...)
}

func (c *replayCallbacks) OnCigCreateComplete(evt hciev.CigCreateComplete) {
	c.event("cig create complete: %+v", evt)
}

func (c *replayCallbacks) OnCigReconfigureComplete(evt hciev.CigCreateComplete) {
	c.event("cig reconfigure complete: %+v", evt)
}

func (c *replayCallbacks) OnCigRemoveComplete(evt hciev.CigRemoveComplete) {
	c.event("cig remove complete: %+v", evt)
}

func (c *replayCallbacks) OnCisEstablished(evt iso.CisEstablishedEvent) {
	c.event("cis established: handle 0x%04X cig %d status %s",
		evt.CisConnHandle, evt.CigID, hciev.StatusText(evt.Status))
}

func (c *replayCallbacks) OnCisDisconnected(evt iso.CisDisconnectedEvent) {
	c.event("cis disconnected: handle 0x%04X cig %d reason %s",
		evt.CisConnHandle, evt.CigID, hciev.StatusText(evt.Reason))
}

func (c *replayCallbacks) OnCisData(evt iso.DataEvent) {
	c.sink.Push(evt)
}

func (c *replayCallbacks) OnSetupDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
	c.event("setup data path complete: handle 0x%04X group %d status %s",
		connHandle, groupID, hciev.StatusText(status))
}

func (c *replayCallbacks) OnRemoveDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
	c.event("remove data path complete: handle 0x%04X group %d status %s",
		connHandle, groupID, hciev.StatusText(status))
}

func (c *replayCallbacks) OnLinkQualityRead(evt hciev.LinkQuality, groupID uint8) {
	c.event("link quality: %+v group %d", evt, groupID)
}

func (c *replayCallbacks) OnBigCreateComplete(evt hciev.BigCreateComplete) {
	c.event("big create complete: %+v", evt)
}

func (c *replayCallbacks) OnBigTerminateComplete(evt hciev.BigTerminateComplete) {
	c.event("big terminate complete: %+v", evt)
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s))
}

func loadScript(path string) (*replayScript, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	script := &replayScript{}
	defaults.SetDefaults(script)
	if err := yaml.Unmarshal(raw, script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	// Struct tag defaults do not reach slice elements that appear during
	// unmarshalling; backfill them here.
	for i := range script.Steps {
		step := &script.Steps[i]
		if step.SduInterval == 0 {
			step.SduInterval = 10000
		}
		if step.CisCount == 0 {
			step.CisCount = 1
		}
		if step.NumBis == 0 {
			step.NumBis = 1
		}
		if step.Count == 0 {
			step.Count = 1
		}
	}
	return script, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}

	script, err := loadScript(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	transport := &scriptTransport{out: out}
	mgr := iso.NewManager(transport, iso.BufferInfo{
		Credits:    script.Buffer.Credits,
		BufferSize: script.Buffer.Size,
	}, logger, iso.WithHistorySize(cfg.HistorySize))

	sink := iso.NewDataSink(cfg.SinkBuffer)
	callbacks := &replayCallbacks{out: out, sink: sink}
	mgr.RegisterCigCallbacks(callbacks)
	mgr.RegisterBigCallbacks(callbacks)
	mgr.AddTrafficObserver(func(active bool) {
		color.New(color.FgMagenta).Fprintf(out, "* iso traffic active: %t\n", active)
	})

	asm := reasm.New(cfg.StagingBuffer, logger)

	// The step loop is the manager's single execution context; the printer
	// only consumes copied data events from the sink.
	loopDone := make(chan error, 1)
	groutine.Go(cmd.Context(), "isoch-replay-loop", func(_ context.Context) {
		loopDone <- runSteps(mgr, transport, asm, script, logger)
	})

	printerDone := make(chan struct{})
	groutine.Go(cmd.Context(), "isoch-data-printer", func(_ context.Context) {
		defer close(printerDone)
		for evt := range sink.Events() {
			color.New(color.FgGreen).Fprintf(out, "< cis data: handle 0x%04X seq %d lost %d ts %d len %d\n",
				evt.CisConnHandle, evt.SeqNb, evt.Lost, evt.Timestamp, len(evt.Data))
		}
	})

	err = <-loopDone
	sink.Close()
	<-printerDone

	if dropped := sink.Dropped(); dropped > 0 {
		logger.WithField("dropped", dropped).Warn("data printer fell behind")
	}
	mgr.Dump(out)
	return err
}

func runSteps(mgr *iso.Manager, transport *scriptTransport, asm *reasm.Assembler, script *replayScript, logger *logrus.Logger) error {
	for i, step := range script.Steps {
		if err := runStep(mgr, transport, asm, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		logger.WithFields(logrus.Fields{"step": i + 1, "op": step.Op}).Debug("step done")
	}
	return nil
}

func runStep(mgr *iso.Manager, transport *scriptTransport, asm *reasm.Assembler, step replayStep) error {
	completion := func() error {
		if step.Completion == "" {
			return nil
		}
		ret, err := parseHex(step.Completion)
		if err != nil {
			return fmt.Errorf("bad completion hex: %w", err)
		}
		return transport.complete(ret)
	}

	switch step.Op {
	case "create_cig", "reconfigure_cig":
		params := iso.CigParams{
			SduIntervalMToS: step.SduInterval,
			SduIntervalSToM: step.SduInterval,
			MaxLatencyMToS:  20,
			MaxLatencySToM:  20,
		}
		for i := 0; i < step.CisCount; i++ {
			params.CisConfigs = append(params.CisConfigs, iso.CisConfig{
				CisID: uint8(i), MaxSduMToS: 120, MaxSduSToM: 120,
				PhyMToS: 0x02, PhySToM: 0x02,
			})
		}
		if step.Op == "create_cig" {
			mgr.CreateCig(step.CigID, params)
		} else {
			mgr.ReconfigureCig(step.CigID, params)
		}
		return completion()

	case "remove_cig":
		mgr.RemoveCig(step.CigID, step.Force)
		return completion()

	case "establish_cis":
		var params iso.CisEstablishParams
		for _, p := range step.Pairs {
			params.Pairs = append(params.Pairs, iso.CisPair{CisHandle: p.Cis, AclHandle: p.Acl})
		}
		mgr.EstablishCis(params)
		return completion()

	case "disconnect_cis":
		mgr.DisconnectCis(step.Handle, step.Reason)
		return nil

	case "disconnection_complete":
		mgr.DisconnectionComplete(step.Handle, step.Reason)
		return nil

	case "create_big":
		mgr.CreateBig(step.BigHandle, iso.BigParams{
			NumBis:      step.NumBis,
			SduInterval: step.SduInterval,
			MaxSdu:      120,
			Phy:         0x02,
		})
		return nil

	case "terminate_big":
		mgr.TerminateBig(step.BigHandle, step.Reason)
		return nil

	case "subevent":
		payload, err := parseHex(step.Payload)
		if err != nil {
			return fmt.Errorf("bad payload hex: %w", err)
		}
		mgr.HandleSubevent(step.Code, payload)
		return nil

	case "setup_data_path":
		mgr.SetupDataPath(step.Handle, iso.DataPathParams{Direction: step.Direction})
		return completion()

	case "remove_data_path":
		mgr.RemoveDataPath(step.Handle, step.Direction)
		return completion()

	case "link_quality":
		mgr.ReadLinkQuality(step.Handle)
		return completion()

	case "send":
		payload, err := parseHex(step.Payload)
		if err != nil {
			return fmt.Errorf("bad payload hex: %w", err)
		}
		mgr.SendData(step.Handle, payload)
		return nil

	case "data":
		raw, err := parseHex(step.Payload)
		if err != nil {
			return fmt.Errorf("bad payload hex: %w", err)
		}
		pkt, err := asm.Push(raw)
		if err != nil {
			return err
		}
		if pkt != nil {
			mgr.HandleData(pkt.Data, pkt.HasTimestamp)
		}
		return nil

	case "num_completed":
		mgr.NumCompletedPackets(step.Handle, step.Count)
		return nil

	default:
		return fmt.Errorf("unknown op")
	}
}
