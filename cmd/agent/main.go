package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/redis/go-redis/v9"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"

	"github.com/serviohub/partner-agent/internal/pkg/consul"
	"github.com/serviohub/partner-agent/internal/pkg/knownjobs"
	"github.com/serviohub/partner-agent/internal/pkg/marketplace"
	"github.com/serviohub/partner-agent/internal/pkg/messages"
	"github.com/serviohub/partner-agent/internal/pkg/notifier"
	"github.com/serviohub/partner-agent/internal/pkg/poller"
	"github.com/serviohub/partner-agent/internal/pkg/postgres"
	"github.com/serviohub/partner-agent/internal/pkg/session"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	go utils.RunPerfEndpoint()

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	redisOpts, err := redis.ParseURL(cfg.GetString("redis.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	sessions, err := session.NewStore(rdb)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init session store")
	}
	jobs, err := knownjobs.NewStore(rdb)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init known jobs store")
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	var tickets poller.Tickets
	if consulURL := cfg.GetString("consul.url"); consulURL != "" {
		provider, err := consul.NewProvider(&capi.Config{Address: consulURL}, cfg.GetString("consul.srvName"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init consul provider")
		}
		if _, err := provider.StartRegistryLoop(ctx, time.Second*30); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't start consul registry loop")
		}
		tickets = provider
	} else {
		cl, err := marketplace.NewClient(cfg.GetString("marketplace.url"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init marketplace client")
		}
		tickets = cl
	}

	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	publisher, err := notifier.NewPublisher(sender)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init publisher")
	}

	pData := &poller.ServiceData{}
	pData.Tickets = tickets
	pData.KnownJobs = jobs
	pData.Notifier = publisher
	pData.Sessions = sessions
	pData.Interval = cfg.GetDuration("poller.interval")

	gueClient, err := gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}

	hData := &poller.HandlerData{}
	hData.GueClient = gueClient
	hData.WorkerCount = cfg.GetInt("worker.count")
	hData.Poller = pData
	hData.MsgSender = sender
	hData.MinInterval = cfg.GetDuration("poller.minInterval")

	cleaner, err := postgres.NewCleaner(dbPool, cfg.GetDuration("cleaner.expire"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init cleaner")
	}
	prData := &notifier.PruneData{}
	prData.GueClient = gueClient
	prData.WorkerCount = 1
	prData.Cleaner = cleaner
	prData.MsgSender = sender
	prData.Interval = cfg.GetDuration("cleaner.interval")

	printBanner()

	doneCh, err := poller.StartPollerService(ctx, pData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start poller service")
	}
	doneTaskCh, err := poller.StartPollHandler(ctx, hData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start background poll task")
	}
	donePruneCh, err := notifier.StartPruneHandler(ctx, prData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start cleanup task")
	}

	if cfg.GetBool("poller.registerTasks") {
		// seed the self rescheduling chains once
		if err := sender.SendMessageAt(ctx, &messages.PollMessage{}, messages.Poll, time.Now()); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't register background poll task")
		}
		if err := sender.SendMessageAt(ctx, &messages.PruneMessage{}, messages.Prune, time.Now()); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't register cleanup task")
		}
	}

	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-allDone(doneCh, doneTaskCh, donePruneCh):
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

func allDone(chs ...chan struct{}) <-chan struct{} {
	res := make(chan struct{})
	go func() {
		defer close(res)
		for _, ch := range chs {
			<-ch
		}
	}()
	return res
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
   _____ __________ _    __________
  / ___// ____/ __ \ |  / /  _/ __ \
  \__ \/ __/ / /_/ / | / // // / / /
 ___/ / /___/ _, _/| |/ // // /_/ /
/____/_____/_/ |_| |___/___/\____/

                           __
  ____ _____ ____  ____  / /_
 / __ ` + "`" + `/ __ ` + "`" + `/ _ \/ __ \/ __/
/ /_/ / /_/ /  __/ / / / /_
\__,_/\__, /\___/_/ /_/\__/   v: %s
     /____/
%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/serviohub/partner-agent"))
}
