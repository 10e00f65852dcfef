// Package main provides the shufflebox entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/app/job"
	"github.com/osa030/shufflebox/internal/app/mutator"
	"github.com/osa030/shufflebox/internal/app/pacer"
	"github.com/osa030/shufflebox/internal/app/scheduler"
	"github.com/osa030/shufflebox/internal/app/shuffle"
	"github.com/osa030/shufflebox/internal/app/snapshot"
	"github.com/osa030/shufflebox/internal/infra/config"
	"github.com/osa030/shufflebox/internal/infra/logger"
	"github.com/osa030/shufflebox/internal/infra/spotify"
	"github.com/osa030/shufflebox/internal/infra/weightstore"
)

var (
	app        = kingpin.New("shufflebox", "Weighted playlist shuffler for Spotify")
	configPath = app.Flag("config", "Path to config file").Default("config/shufflebox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (console output is kept)").String()

	runCmd  = app.Command("run", "Run the configured jobs once (default)").Default()
	runJobs = runCmd.Flag("job", "Only run the named job (repeatable)").Strings()

	daemonCmd = app.Command("daemon", "Run the configured jobs every day at schedule.run_at")

	shuffleCmd       = app.Command("shuffle", "Shuffle a playlist in place")
	shuffleRef       = shuffleCmd.Arg("playlist", "Playlist ID, URI, URL, or name").Required().String()
	shuffleAllowDups = shuffleCmd.Flag("allow-duplicates", "Keep repeated tracks").Bool()

	mergeCmd     = app.Command("merge", "Replace a playlist with a weighted selection from other playlists")
	mergeInto    = mergeCmd.Flag("into", "Destination playlist").Required().String()
	mergeFrom    = mergeCmd.Flag("from", "Source playlist and quota as <playlist>=<quota> (repeatable, order matters)").Required().Strings()
	mergeStrict  = mergeCmd.Flag("strict-quota", "Fail when a source has fewer tracks than its quota").Bool()
	mergeExclude = mergeCmd.Flag("exclude-across-sources", "Never pick a track already picked from an earlier source").Bool()

	listPlaylistsCmd = app.Command("list-playlists", "List your playlists with their IDs")

	weightsCmd = app.Command("weights", "Print the stored track weights")
	weightsTop = weightsCmd.Flag("top", "Only print the N heaviest tracks (0 for all)").Default("0").Int()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	zlog.Debug().Msgf("Loaded config from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, command, cfg); err != nil {
		zlog.Error().Msgf("%s failed: %v", command, err)
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, command string, cfg *config.Config) error {
	// weights only needs the store
	if command == weightsCmd.FullCommand() {
		return printWeights(cfg, *weightsTop)
	}

	env, err := newEnvironment(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.close()

	switch command {
	case runCmd.FullCommand():
		_, err := env.runner.Run(ctx, *runJobs...)
		return err

	case daemonCmd.FullCommand():
		return runDaemon(ctx, cfg, env.runner)

	case shuffleCmd.FullCommand():
		id, err := env.orch.Resolve(ctx, *shuffleRef)
		if err != nil {
			return err
		}
		_, err = env.orch.ShuffleInPlace(ctx, shuffle.ShuffleRequest{PlaylistID: id, AllowDuplicates: *shuffleAllowDups})
		return err

	case mergeCmd.FullCommand():
		req, err := parseMerge(ctx, env.orch)
		if err != nil {
			return err
		}
		_, err = env.orch.Merge(ctx, req)
		return err

	case listPlaylistsCmd.FullCommand():
		return printPlaylists(ctx, env.orch)
	}

	return fmt.Errorf("unknown command: %s", command)
}

// environment holds everything wired from the config.
type environment struct {
	orch    *shuffle.Orchestrator
	runner  *job.Runner
	weights weightstore.Store
}

func newEnvironment(ctx context.Context, cfg *config.Config) (*environment, error) {
	// Create Spotify client
	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:        cfg.Spotify.ClientID,
		ClientSecret:    cfg.Spotify.ClientSecret,
		RefreshToken:    cfg.Spotify.RefreshToken,
		CredentialsPath: cfg.Spotify.CredentialsPath,
		Market:          cfg.Spotify.Market,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Spotify client: %w", err)
	}

	displayName, userID, err := spotifyClient.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify Spotify credentials: %w", err)
	}
	zlog.Info().Msgf("Authenticated as %s (%s)", displayName, userID)

	store, err := weightstore.Open(weightstore.Config{Driver: cfg.Weights.Driver, Path: cfg.Weights.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open weight store: %w", err)
	}

	snapshots := snapshot.New(spotifyClient, pacer.New(cfg.Pacing.FetchDelay()), cfg.Backup.Dir)
	mut := mutator.New(spotifyClient, pacer.New(cfg.Pacing.BatchDelay()))
	orch := shuffle.New(snapshots, mut, spotifyClient, store, nil)

	jobs, err := job.NewJobsFromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid job config: %w", err)
	}

	return &environment{
		orch:    orch,
		runner:  job.NewRunner(orch, jobs),
		weights: store,
	}, nil
}

func (e *environment) close() {
	if err := e.weights.Close(); err != nil {
		zlog.Warn().Msgf("Failed to close weight store: %v", err)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, runner *job.Runner) error {
	hour, minute, err := cfg.Schedule.ParseRunAt()
	if err != nil {
		return err
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	daily, err := scheduler.NewDaily(hour, minute, loc)
	if err != nil {
		return err
	}

	zlog.Info().Msgf("Daemon started with %d jobs, daily at %s (%s)", len(runner.Jobs()), cfg.Schedule.RunAt, loc)
	return daily.Run(ctx, func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	})
}

func parseMerge(ctx context.Context, orch *shuffle.Orchestrator) (shuffle.MergeRequest, error) {
	dest, err := orch.Resolve(ctx, *mergeInto)
	if err != nil {
		return shuffle.MergeRequest{}, err
	}

	req := shuffle.MergeRequest{
		DestinationID:        dest,
		StrictQuota:          *mergeStrict,
		ExcludeAcrossSources: *mergeExclude,
	}
	for _, spec := range *mergeFrom {
		ref, quota, err := parseSource(spec)
		if err != nil {
			return shuffle.MergeRequest{}, err
		}
		id, err := orch.Resolve(ctx, ref)
		if err != nil {
			return shuffle.MergeRequest{}, err
		}
		req.Sources = append(req.Sources, shuffle.Source{PlaylistID: id, Quota: quota})
	}
	return req, nil
}

// parseSource splits "<playlist>=<quota>" on the last '=' so names may contain '='.
func parseSource(spec string) (string, int, error) {
	i := strings.LastIndex(spec, "=")
	if i <= 0 || i == len(spec)-1 {
		return "", 0, fmt.Errorf("invalid source %q, expected <playlist>=<quota>", spec)
	}
	quota, err := strconv.Atoi(spec[i+1:])
	if err != nil || quota < 1 {
		return "", 0, fmt.Errorf("invalid quota in %q", spec)
	}
	return spec[:i], quota, nil
}

func printPlaylists(ctx context.Context, orch *shuffle.Orchestrator) error {
	handles, err := orch.ListPlaylists(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-24s %6s  %s\n", "ID", "TRACKS", "NAME")
	for _, h := range handles {
		fmt.Printf("%-24s %6d  %s\n", h.ID, h.TrackTotal, h.Name)
	}
	return nil
}

func printWeights(cfg *config.Config, top int) error {
	store, err := weightstore.Open(weightstore.Config{Driver: cfg.Weights.Driver, Path: cfg.Weights.Path})
	if err != nil {
		return fmt.Errorf("failed to open weight store: %w", err)
	}
	defer store.Close()

	records, err := store.Load()
	if err != nil {
		return err
	}

	list := records.List()
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].PickWeight > list[j].PickWeight
	})
	if top > 0 && top < len(list) {
		list = list[:top]
	}

	fmt.Printf("%-24s %s\n", "TRACK ID", "WEIGHT")
	for _, r := range list {
		fmt.Printf("%-24s %.2f\n", r.ID, r.PickWeight)
	}
	fmt.Printf("%d of %d tracks\n", len(list), len(records))
	return nil
}
