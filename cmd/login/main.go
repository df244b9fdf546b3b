package main

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/labstack/gommon/color"
	"github.com/redis/go-redis/v9"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	"github.com/serviohub/partner-agent/internal/pkg/marketplace"
	"github.com/serviohub/partner-agent/internal/pkg/session"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	printBanner()

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

	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFunc()

	if cfg.GetBool("login.logout") {
		if err := sessions.Clear(ctx); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't clear session")
		}
		goapp.Log.Info().Msg("Signed out. Bye")
		return
	}

	email := cfg.GetString("login.email")
	password := cfg.GetString("login.password")
	role, err := parseRole(cfg.GetString("login.role"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("wrong role")
	}
	if email == "" || password == "" {
		goapp.Log.Fatal().Msg("no login.email or login.password provided")
	}

	cl, err := marketplace.NewClient(cfg.GetString("marketplace.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init marketplace client")
	}

	id, err := cl.SignIn(ctx, email, password, role)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't sign in")
	}
	if err := sessions.Save(ctx, &api.Session{Role: role, Email: email, ID: id}); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't save session")
	}
	if role == api.RolePartner {
		companyID, err := cl.CompanyID(ctx, email)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't get company id")
		}
		if err := sessions.SaveCompanyID(ctx, companyID); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't save company id")
		}
		goapp.Log.Info().Int64("companyID", companyID).Msg("company resolved")
	}
	goapp.Log.Info().Str("email", email).Str("role", string(role)).Int64("id", id).Msg("Signed in. Bye")
}

func parseRole(s string) (api.Role, error) {
	switch s {
	case "", string(api.RolePartner):
		return api.RolePartner, nil
	case string(api.RoleUser):
		return api.RoleUser, nil
	}
	return "", fmt.Errorf("unknown role '%s', expected partner or user", s)
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

    __            _
   / /___  ____ _(_)___
  / / __ \/ __ ` + "`" + `/ / __ \
 / / /_/ / /_/ / / / / /
/_/\____/\__, /_/_/ /_/   v: %s
        /____/
%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/serviohub/partner-agent"))
}
