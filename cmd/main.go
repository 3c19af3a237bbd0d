package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/theo7791l/wolaro-guard/internal/challenge"
	"github.com/theo7791l/wolaro-guard/internal/commands"
	"github.com/theo7791l/wolaro-guard/internal/config"
	"github.com/theo7791l/wolaro-guard/internal/detect"
	"github.com/theo7791l/wolaro-guard/internal/engine"
	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/lockdown"
	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/metrics"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/platform"
	"github.com/theo7791l/wolaro-guard/internal/repute"
	"github.com/theo7791l/wolaro-guard/internal/sched"
	"github.com/theo7791l/wolaro-guard/internal/store"
	"github.com/theo7791l/wolaro-guard/internal/window"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logging.InitGlobalLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Path); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logging.GlobalLogger.Close()
	logging.Info("Wolaro Guard starting")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	rules, err := patterns.NewStore(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	stopWatch, err := rules.Watch()
	if err != nil {
		return fmt.Errorf("rule watcher: %w", err)
	}
	defer stopWatch()

	windows := window.NewStore()
	defer windows.Close()
	scheduler := sched.New()
	defer scheduler.Close()
	cache := guildconf.NewCache(db, 0)
	defer cache.Close()
	registry := metrics.Global()

	session, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildModeration |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	client := platform.NewDiscord(session)
	locks := lockdown.NewManager(client)

	urlChecker := repute.NewURLChecker(cfg.Repute.URLEndpoints, repute.NewCache(0))
	nsfwScorer := repute.NewNSFWClassifier(cfg.Repute.NSFWEndpoint, repute.NewCache(0))

	// The expiry callback needs the engine, which needs the challenge
	// manager; the indirection breaks the cycle.
	var eng *engine.Engine
	challenges := challenge.NewManager(scheduler, func(guildID, userID string) {
		if eng != nil {
			eng.ChallengeExpiry(guildID, userID)
		}
	})
	defer challenges.Close()

	raid := detect.NewRaidDetector(windows, rules, scheduler)
	eng = engine.New(engine.Deps{
		Client:     client,
		Cache:      cache,
		Windows:    windows,
		Registry:   registry,
		Flood:      detect.NewFloodDetector(windows, rules),
		Raid:       raid,
		Nuke:       detect.NewNukeDetector(windows),
		Phishing:   detect.NewPhishingDetector(rules, urlChecker),
		NSFW:       detect.NewNSFWDetector(nsfwScorer),
		Lockdowns:  locks,
		Challenges: challenges,
		Sink:       db,
	})

	gw := &gateway{engine: eng, challenges: challenges}
	session.AddHandler(gw.onMessageCreate)
	session.AddHandler(gw.onMemberAdd)
	session.AddHandler(gw.onAuditLogEntry)

	cmdHandler := commands.NewHandler(cache, db, locks, raid, registry)
	session.AddHandler(cmdHandler.HandleInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	defer session.Close()
	gw.selfID = session.State.User.ID

	appID := cfg.Bot.ClientID
	if appID == "" {
		appID = session.State.User.ID
	}
	if _, err := session.ApplicationCommandBulkOverwrite(appID, "", commands.Definitions()); err != nil {
		return fmt.Errorf("command registration: %w", err)
	}

	logging.Info("Connected as %s, protection active", session.State.User.Username)
	waitForShutdown()
	logging.Info("Shutting down")
	// Give in-flight executor work a moment before the deferred teardown.
	time.Sleep(250 * time.Millisecond)
	return nil
}

func waitForShutdown() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}
