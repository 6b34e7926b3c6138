// Command scopewatchd is the headless core process: a UI-less core plus
// a thin rendering shell talks to it over the command/event bus. It
// loads a project, drives the sampling/transform/sink pipeline, and
// exposes a JSON-RPC control surface, or replays a previously recorded
// session. Its command structure is one root command with one RunE per
// mode, flags bound directly into a local options struct.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oscillo/scopewatch/bus"
	"github.com/oscillo/scopewatch/config"
	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/pipeline"
	"github.com/oscillo/scopewatch/probe"
	"github.com/oscillo/scopewatch/publish"
	"github.com/oscillo/scopewatch/recordfmt"
	"github.com/oscillo/scopewatch/rpcserver"
	"github.com/oscillo/scopewatch/sampler"
	"github.com/oscillo/scopewatch/session"
	"github.com/oscillo/scopewatch/transform"
)

func main() {
	root := &cobra.Command{
		Use:   "scopewatchd",
		Short: "Headless sampling/transform/sink core for a real-time embedded debug probe",
		Long: `scopewatchd loads a project describing a probe, its variables, and the
processing graph between them, then drives the sample -> transform -> sink
pipeline at the project's configured poll rate. A thin UI talks to it over
the bus exposed by "serve"; "replay" plays a previously recorded session
back with no probe attached.`,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newProjectCmd())

	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var (
		projectPath string
		rpcPort     int
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load a project and run the pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(projectPath, rpcPort, verbose)
		},
	}
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "path to a project file")
	cmd.Flags().IntVar(&rpcPort, "rpc-port", 5450, "TCP port for the JSON-RPC control surface")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every RPC call with its arguments")
	cmd.MarkFlagRequired("project")
	return cmd
}

func runServe(projectPath string, rpcPort int, verbose bool) error {
	proj, err := config.Load(projectPath)
	if err != nil {
		return fmt.Errorf("scopewatchd: %w", err)
	}
	log.Printf("scopewatchd: loaded project %q (%d variables)", proj.Name, len(proj.Config.Variables))

	dbgProbe, err := dialProbe(proj)
	if err != nil {
		return fmt.Errorf("scopewatchd: %w", err)
	}

	samp := sampler.New(dbgProbe)
	for i := range proj.Config.Variables {
		samp.AddVariable(&proj.Config.Variables[i])
	}

	stage := transform.NewStage(transform.NewCache())
	pipe := pipeline.New(int(proj.Config.Collection.PollRateHz))

	commands := bus.NewCommandQueue()
	messages := bus.NewMessageQueue()

	exporter := publish.NewExporter()
	recorder := session.NewRecorder()

	variables := make(map[int]*model.Variable, len(proj.Config.Variables))
	for i := range proj.Config.Variables {
		variables[proj.Config.Variables[i].ID] = &proj.Config.Variables[i]
	}

	samplerID := pipe.AddNode(pipeline.NewSamplerNode(samp))
	transformID := pipe.AddNode(pipeline.NewTransformNode(stage))
	sinkID := pipe.AddNode(pipeline.NewSink("bus+exporter+recorder", func(packet *model.DataPacket) {
		messages.Send(bus.Message{Kind: bus.MsgDataBatch, Batch: packet})
		exporter.PublishPacket(packet)
		recorder.OnTick(packet.Timestamp, packet)
	}))
	if err := pipe.AddEdge(samplerID, transformID, 0, 0); err != nil {
		return fmt.Errorf("scopewatchd: %w", err)
	}
	if err := pipe.AddEdge(transformID, sinkID, 0, 0); err != nil {
		return fmt.Errorf("scopewatchd: %w", err)
	}

	if proj.Persistence.Enabled {
		writer, err := recordfmt.New(proj.Persistence.Format, proj.Persistence.FilePath, recordfmt.Options{
			IncludeVariableName:    proj.Persistence.IncludeVariableName,
			IncludeVariableAddress: proj.Persistence.IncludeVariableAddr,
			AppendMode:             proj.Persistence.AppendMode,
		})
		if err != nil {
			return fmt.Errorf("scopewatchd: %w", err)
		}
		if err := writer.CreateFile(); err != nil {
			return fmt.Errorf("scopewatchd: %w", err)
		}
		if err := writer.WriteHeader(); err != nil {
			return fmt.Errorf("scopewatchd: %w", err)
		}
		defer writer.Close()
	}

	ctl := rpcserver.NewControl(commands, messages, verbose)
	v := viper.New()
	v.Set("config.probe.probe_selector", proj.Config.Probe.ProbeSelector)
	rpcserver.SeedFromConfig(ctl, v)

	pipe.Start()
	defer pipe.Stop()

	stop := make(chan struct{})
	go pipeline.RunLoop(pipe, variables, func() {
		for _, c := range commands.DrainAll() {
			applyCommand(pipe, samp, messages, c)
		}
	}, stop)
	go emitStats(samp, messages, stop)

	return rpcserver.RunServer(rpcPort, ctl, true)
}

// emitStats broadcasts a Stats message every bus.StatsInterval, folding
// the message queue's drop counter into CollectionStats.DroppedMessages
// and resetting it so each broadcast reports only drops since the last
// one.
func emitStats(samp *sampler.Sampler, messages *bus.MessageQueue, stop <-chan struct{}) {
	ticker := time.NewTicker(bus.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := samp.Stats()
			stats.DroppedMessages = messages.Dropped()
			messages.ResetDropped()
			messages.Send(bus.Message{Kind: bus.MsgStats, Stats: stats})
		}
	}
}

// applyCommand handles the bus commands the pipeline's RunLoop drains
// each tick. Commands that edit the pipeline graph itself (NodeConfig,
// AddNode/RemoveNode/AddEdge/RemoveEdge, RequestTopology) and probe
// enumeration (RefreshProbes) belong to a graph-editing UI this headless
// core doesn't build a node-type registry for yet; they're acknowledged
// with a GraphError rather than silently dropped.
func applyCommand(pipe *pipeline.Pipeline, samp *sampler.Sampler, messages *bus.MessageQueue, c bus.Command) {
	switch c.Kind {
	case bus.CmdConnect:
		// Connect is resolved once at startup via dialProbe; this
		// case does nothing, and the command's ProbeSelector is not
		// read.
	case bus.CmdDisconnect:
		_ = samp.Disconnect()
	case bus.CmdStart:
		samp.Start()
	case bus.CmdStop:
		samp.Stop()
	case bus.CmdAddVariable, bus.CmdUpdateVariable:
		if c.Variable != nil {
			samp.AddVariable(c.Variable)
		}
	case bus.CmdRemoveVariable:
		samp.RemoveVariable(c.VarID)
	case bus.CmdWriteVariable:
		if err := samp.WriteVariable(c.VarID, c.Value); err != nil {
			messages.Send(bus.Message{Kind: bus.MsgWriteError, RequestID: c.RequestID, VarID: c.VarID, Message: err.Error()})
		} else {
			messages.Send(bus.Message{Kind: bus.MsgWriteSuccess, RequestID: c.RequestID, VarID: c.VarID})
		}
	case bus.CmdSetPollRate:
		pipe.TickRate = int(c.PollRateHz)
	case bus.CmdSetMemoryAccessMode:
		samp.SetMemoryAccessMode(probe.ParseAccessMode(c.AccessMode))
	case bus.CmdClearData:
		pipe.MarkDirty()
	case bus.CmdRequestStats:
		messages.Send(bus.Message{Kind: bus.MsgStats, Stats: samp.Stats()})
	case bus.CmdRequestVariableTree:
		messages.Send(bus.Message{Kind: bus.MsgVariableTreeSnapshot, RequestID: c.RequestID, VariableTree: samp.BuildVariableTree()})
	case bus.CmdShutdown:
		samp.Stop()
		pipe.Stop()
	case bus.CmdNodeConfig, bus.CmdRefreshProbes, bus.CmdRequestTopology,
		bus.CmdAddNode, bus.CmdRemoveNode, bus.CmdAddEdge, bus.CmdRemoveEdge:
		messages.Send(bus.Message{Kind: bus.MsgGraphError, Message: "graph editing is not yet implemented"})
	}
}

// dialProbe builds a DebugProbe for proj's probe selector. A selector of
// the form "mock" uses a deterministic MockProbe; any other selector is
// dialed as a TCP address carrying the framed protocol RealProbe speaks
// over its Transport, the seam a real USB/serial driver would replace.
func dialProbe(proj *config.Project) (probe.DebugProbe, error) {
	selector := proj.Config.Probe.ProbeSelector
	cfg := probe.ConnectConfig{
		Selector:          selector,
		Target:            proj.Config.Probe.TargetChip,
		SpeedKHz:          proj.Config.Probe.SpeedKHz,
		Protocol:          protocolFromConfig(proj.Config.Probe.Protocol),
		ConnectUnderReset: resetFromConfig(proj.Config.Probe.ConnectUnderReset),
		HaltOnConnect:     proj.Config.Probe.HaltOnConnect,
	}

	var dbgProbe probe.DebugProbe
	if selector == "" || selector == "mock" {
		dbgProbe = probe.NewMockProbe(1)
	} else {
		conn, err := net.DialTimeout("tcp", selector, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dial probe %q: %w", selector, err)
		}
		dbgProbe = probe.NewRealProbe(conn)
	}

	if err := probe.DialWithRetry(dbgProbe, cfg, 3, 200*time.Millisecond); err != nil {
		return nil, fmt.Errorf("connect probe %q: %w", selector, err)
	}
	return dbgProbe, nil
}

// protocolFromConfig maps the project file's textual protocol name to the
// probe package's enum.
func protocolFromConfig(p config.Protocol) probe.Protocol {
	if p == config.ProtocolJtag {
		return probe.JTAG
	}
	return probe.SWD
}

// resetFromConfig maps the project file's textual reset policy to the
// probe package's enum.
func resetFromConfig(r config.ConnectUnderReset) probe.ConnectUnderReset {
	switch r {
	case config.ResetHalt:
		return probe.ResetSoftware
	case config.ResetHard:
		return probe.ResetHardware
	default:
		return probe.ResetNone
	}
}

func newReplayCmd() *cobra.Command {
	var speed float64
	var loop bool
	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: "Play back a recorded session with no probe attached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0], speed, loop)
		},
	}
	cmd.Flags().Float64VarP(&speed, "speed", "s", 1.0, "playback speed multiplier")
	cmd.Flags().BoolVarP(&loop, "loop", "l", false, "loop playback at the end of the recording")
	return cmd
}

func runReplay(path string, speed float64, loop bool) error {
	rec, err := session.LoadRecording(path)
	if err != nil {
		return fmt.Errorf("scopewatchd: %w", err)
	}

	player := session.NewPlayer(nil)
	player.Load(rec)
	player.SetSpeed(speed)
	player.SetLoop(loop)
	player.Play()

	log.Printf("scopewatchd: replaying %q (%d frames, %s)", rec.Metadata.Name, len(rec.Frames), rec.Metadata.Duration)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		updates := player.Update()
		if len(updates) > 0 {
			log.Printf("scopewatchd: frame %d, %d variables updated", player.CurrentFrame(), len(updates))
		}
		if player.State() == session.PlayerStopped && !loop {
			break
		}
	}
	return nil
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project file utilities",
	}
	cmd.AddCommand(newProjectValidateCmd())
	return cmd
}

func newProjectValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a project file and report whether it parses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: %q, %d variables, probe=%q\n", proj.Name, len(proj.Config.Variables), proj.Config.Probe.ProbeSelector)
			return nil
		},
	}
}
