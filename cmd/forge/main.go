package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	forgeclient "forge/internal/client"
	"forge/internal/config"
	"forge/internal/daemon"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/types"
)

const usageText = `forge orchestrates agent runs that build projects and documents from a brief.

Usage:
  forge <command> [flags]

Commands:
  daemon     run the orchestration daemon
  create     create a run from a brief
  ps         list runs
  status     show run status and steps
  tail       stream run events
  stop       request a cooperative stop
  chat       send a message to the run's refactor agent
  review     review the run's files (all, or only the paths given)
  download   download the run bundle
  agents     list available agent presets, custom agents, and teams
  rm         delete a terminated run
  help       show help

Examples:
  forge daemon
  forge create --title "todo app" --description "a CLI todo manager"
  forge tail <run-id>
  forge download <run-id> --out bundle.zip
`

const version = "dev"

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	case "daemon":
		exitOnErr("daemon", runDaemonCommand(args[1:]))
	case "create":
		exitOnErr("create", runCreate(args[1:]))
	case "ps":
		exitOnErr("ps", runPS(args[1:]))
	case "status":
		exitOnErr("status", runStatus(args[1:]))
	case "tail":
		exitOnErr("tail", runTail(args[1:]))
	case "stop":
		exitOnErr("stop", runStop(args[1:]))
	case "chat":
		exitOnErr("chat", runChat(args[1:]))
	case "review":
		exitOnErr("review", runReview(args[1:]))
	case "download":
		exitOnErr("download", runDownload(args[1:]))
	case "agents":
		exitOnErr("agents", runAgents(args[1:]))
	case "rm":
		exitOnErr("rm", runRM(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runDaemonCommand(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	kill := fs.Bool("kill", false, "stop any running daemon and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kill {
		return killDaemon()
	}
	return runDaemon()
}

func runDaemon() error {
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return err
	}
	tokenPath, err := config.TokenPath()
	if err != nil {
		return err
	}
	token, err := daemon.LoadOrCreateToken(tokenPath)
	if err != nil {
		return err
	}

	log := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg.DaemonAddress(), token, buildVersion(), cfg, log)
	return d.Run(ctx)
}

func killDaemon() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	if err := client.Shutdown(ctx); err != nil {
		if isDaemonUnavailable(err) {
			return nil
		}
		return err
	}
	return nil
}

func isDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection refused")
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	kind := fs.String("kind", "project", "run kind: project or document")
	title := fs.String("title", "", "run title")
	description := fs.String("description", "", "what should be built")
	target := fs.String("target", "", "target language or stack")
	docType := fs.String("doc-type", "", "document type (document runs)")
	preset := fs.String("preset", "", "agent preset id")
	agentID := fs.String("agent", "", "custom agent id")
	teamID := fs.String("team", "", "team id")
	follow := fs.Bool("follow", false, "stream events after creating")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	snapshot, err := client.CreateRun(ctx, orchestrator.CreateRunRequest{
		Kind:        types.RunKind(*kind),
		Title:       *title,
		Description: *description,
		Target:      *target,
		DocType:     *docType,
		Agents: types.AgentSelection{
			Preset:  *preset,
			AgentID: *agentID,
			TeamID:  *teamID,
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, snapshot.Run.ID)
	if *follow {
		return streamRun(ctx, client, snapshot.Run.ID)
	}
	return nil
}

func runPS(args []string) error {
	fs := flag.NewFlagSet("ps", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	search := fs.String("search", "", "only list runs whose title or description contains this text")
	limit := fs.Int("limit", 0, "maximum number of runs to list (0 = all)")
	offset := fs.Int("offset", 0, "number of runs to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	runs, err := client.ListRuns(ctx, forgeclient.RunListOptions{
		Search: *search,
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("status requires a run id")
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	snapshot, err := client.GetRun(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s  %s  %s\n", snapshot.Run.ID, snapshot.Run.Status, snapshot.Run.Title)
	if snapshot.Run.LastError != "" {
		fmt.Fprintf(os.Stdout, "error: %s\n", snapshot.Run.LastError)
	}
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "STEP\tROLE\tSTATUS\tATTEMPTS\tERROR")
	for _, step := range snapshot.Steps {
		attempts := "-"
		if step.Attempts > 0 {
			attempts = fmt.Sprintf("%d", step.Attempts)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", step.Name, step.Role, step.Status, attempts, step.Error)
	}
	return writer.Flush()
}

func runTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("tail requires a run id")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	return streamRun(ctx, client, fs.Arg(0))
}

func streamRun(ctx context.Context, client *forgeclient.Client, id string) error {
	ch, cancel, err := client.StreamEvents(ctx, id)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			printEvent(event)
		}
	}
}

func printEvent(event types.Event) {
	stamp := event.Timestamp.Local().Format("15:04:05")
	switch event.Type {
	case types.EventTypeStatus:
		fmt.Fprintf(os.Stdout, "%s  == %s ==\n", stamp, event.Message)
	default:
		suffix := ""
		if event.ArtifactPath != "" {
			suffix = "  [" + event.ArtifactPath + "]"
		}
		fmt.Fprintf(os.Stdout, "%s  %-10s %s%s\n", stamp, event.Agent, event.Message, suffix)
	}
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("stop requires a run id")
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	if err := client.StopRun(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "ok")
	return nil
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("chat requires a run id and a message")
	}
	id := fs.Arg(0)
	message := strings.Join(fs.Args()[1:], " ")

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	reply, err := client.Chat(ctx, id, message, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, reply)
	return nil
}

func runReview(args []string) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("review requires a run id")
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	report, err := client.Review(ctx, fs.Arg(0), fs.Args()[1:])
	if err != nil {
		return err
	}

	verdict := "approved"
	if !report.Approved {
		verdict = "changes requested"
	}
	fmt.Fprintf(os.Stdout, "%s (score %d)\n", verdict, report.Score)
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "FILE\tAPPROVED\tBLOCKING\tCOMMENTS")
	for path, file := range report.Files {
		fmt.Fprintf(writer, "%s\t%v\t%d\t%s\n", path, file.Approved, len(file.BlockingIssues), strings.Join(file.Comments, "; "))
	}
	return writer.Flush()
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	out := fs.String("out", "", "output path (defaults to <run-id>.zip)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("download requires a run id")
	}
	id := fs.Arg(0)
	dest := *out
	if dest == "" {
		dest = id + ".zip"
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	if err := client.Download(ctx, id, dest); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, dest)
	return nil
}

func runAgents(args []string) error {
	fs := flag.NewFlagSet("agents", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	raw, err := client.Agents(ctx)
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(pretty)
}

func runRM(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("rm requires a run id")
	}

	ctx := context.Background()
	client, err := forgeclient.New()
	if err != nil {
		return err
	}
	if err := client.DeleteRun(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "ok")
	return nil
}

func printRuns(runs []types.RunSnapshot) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKIND\tSTATUS\tCREATED\tTITLE")
	for _, snapshot := range runs {
		created := snapshot.Run.CreatedAt.Local().Format("2006-01-02 15:04")
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			snapshot.Run.ID, snapshot.Run.Kind, snapshot.Run.Status, created, snapshot.Run.Title)
	}
	_ = writer.Flush()
}

func exitOnErr(label string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}
	return version
}
