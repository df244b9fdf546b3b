package main

import (
	"context"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	"github.com/airenas/go-app/pkg/goapp"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/redis/go-redis/v9"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"

	"github.com/serviohub/partner-agent/internal/pkg/appservice"
	"github.com/serviohub/partner-agent/internal/pkg/chat"
	"github.com/serviohub/partner-agent/internal/pkg/consul"
	"github.com/serviohub/partner-agent/internal/pkg/locale"
	"github.com/serviohub/partner-agent/internal/pkg/marketplace"
	"github.com/serviohub/partner-agent/internal/pkg/notifier"
	"github.com/serviohub/partner-agent/internal/pkg/postgres"
	"github.com/serviohub/partner-agent/internal/pkg/session"
	"github.com/serviohub/partner-agent/internal/pkg/workflow"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &appservice.Data{}
	data.Port = cfg.GetInt("port")

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
	data.Sessions = sessions

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	data.DB = db

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	var marketCl consul.Marketplace
	if consulURL := cfg.GetString("consul.url"); consulURL != "" {
		provider, err := consul.NewProvider(&capi.Config{Address: consulURL}, cfg.GetString("consul.srvName"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init consul provider")
		}
		if _, err := provider.StartRegistryLoop(ctx, time.Second*30); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't start consul registry loop")
		}
		marketCl = provider
	} else {
		cl, err := marketplace.NewClient(cfg.GetString("marketplace.url"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init marketplace client")
		}
		marketCl = cl
	}
	data.Tickets = marketCl
	data.ChatReader = marketCl

	data.Workflow, err = workflow.New(marketCl)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init workflow")
	}
	data.Chats, err = chat.NewService(marketCl, cfg.GetDuration("chat.interval"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init chat service")
	}

	wsh := appservice.NewWSConnKeeper()
	data.WSHandler = wsh
	lang := locale.NewHolder(cfg.GetString("lang"))
	data.Lang = lang

	nData := &notifier.ServiceData{}
	nData.DB = db
	nData.WSHandler = wsh
	nData.Sessions = sessions
	nData.Lang = lang
	nData.WorkerCount = cfg.GetInt("worker.count")
	nData.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	if cfg.GetString("smtp.host") != "" || cfg.GetString("smtp.fakeUrl") != "" {
		nData.EmailMaker, err = ainform.NewTemplateEmailMaker(cfg)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init email maker")
		}
		if cfg.GetString("smtp.fakeUrl") == "" {
			goapp.Log.Info().Str("sender", "real").Msg("smtp")
			nData.EmailSender, err = ainform.NewSimpleEmailSender(cfg)
			if err != nil {
				goapp.Log.Fatal().Err(err).Msg("can't init email sender")
			}
		} else {
			goapp.Log.Info().Str("sender", "fake").Msg("smtp")
			nData.EmailSender, err = notifier.NewFakeEmailSender(cfg)
			if err != nil {
				goapp.Log.Fatal().Err(err).Msg("can't init fake email sender")
			}
		}
	}

	goapp.Log.Info().Msg("starting notify handler")
	doneCh, err := notifier.StartWorkerService(ctx, nData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start notify handler service")
	}

	goapp.Log.Info().Msg("starting web service")
	if err := appservice.StartWebServer(data); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	goapp.Log.Info().Msg("exit web service")
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
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
  ____ _____  ____  ____/ /
 / __ ` + "`" + `/ __ \/ __ \/ __  /
/ /_/ / /_/ / /_/ / /_/ /
\__,_/ .___/ .___/\__,_/    v: %s
    /_/   /_/
%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/serviohub/partner-agent"))
}
