package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/api"
	"github.com/relabs-tech/aepmonitor/core/configstore"
	"github.com/relabs-tech/aepmonitor/core/csql"
	"github.com/relabs-tech/aepmonitor/core/events"
	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/notifier"
	"github.com/relabs-tech/aepmonitor/core/registry"
	"github.com/relabs-tech/aepmonitor/core/schema"
	"github.com/relabs-tech/aepmonitor/core/tokencache"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
// to persist configurations and events, otherwise they are kept in memory.
// KAFKA_BROKERS is a semicolon separated list.
type Service struct {
	Port           int           `env:"PORT,default=3000" description:"the port the service listens on"`
	LogLevel       string        `env:"LOG_LEVEL,default=info" description:"the log level, one of debug, info, warn, error"`
	Postgres       string        `env:"POSTGRES" description:"the connection string for the Postgres DB"`
	PostgresSchema string        `env:"POSTGRES_SCHEMA,default=aepmonitor" description:"the database schema"`
	RedisAddr      string        `env:"REDIS_ADDR" description:"host:port of a Redis server which shares access tokens"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB,default=0"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" description:"brokers which receive event notifications"`
	KafkaTopic     string        `env:"KAFKA_TOPIC,default=aepmonitor-events"`
	BaseURL        string        `env:"AEP_BASE_URL,default=https://platform.adobe.io"`
	TokenURL       string        `env:"AEP_IMS_URL,default=https://ims-na1.adobelogin.com/ims/token/v3"`
	ClientID       string        `env:"AEP_CLIENT_ID"`
	OrgID          string        `env:"AEP_ORG_ID"`
	Sandbox        string        `env:"AEP_SANDBOX,default=prod"`
	RequestTimeout time.Duration `env:"AEP_REQUEST_TIMEOUT,default=30s" description:"timeout of requests to the platform"`
	CORSOrigin     string        `env:"CORS_ALLOW_ORIGIN,default=*"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.NewMemory()
	if service.Postgres != "" {
		db := csql.MustOpenWithSchema(ctx, service.Postgres, service.PostgresSchema)
		defer db.Close()
		if reg, err = registry.New(ctx, db); err != nil {
			rlog.WithError(err).Fatalln("cannot create registry")
		}
	} else {
		rlog.Warnln("POSTGRES is not set, configurations and events are kept in memory")
	}

	var tokenCache tokencache.Cache = tokencache.NewMemory()
	if service.RedisAddr != "" {
		redisCache, err := tokencache.DialRedis(ctx, service.RedisAddr, service.RedisPassword, service.RedisDB)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot connect to redis")
		}
		defer redisCache.Close()
		tokenCache = redisCache
	}

	var eventNotifier core.Notifier = core.NopNotifier{}
	if len(service.KafkaBrokers) > 0 {
		kafkaNotifier, err := notifier.NewKafka(notifier.KafkaConfig{
			Brokers: service.KafkaBrokers,
			Topic:   service.KafkaTopic,
		})
		if err != nil {
			rlog.WithError(err).Fatalln("cannot create kafka notifier")
		}
		defer kafkaNotifier.Close()
		eventNotifier = kafkaNotifier
	}

	validator := schema.MustDefault()
	router := mux.NewRouter()
	api.New(&api.Builder{
		Router:         router,
		Configurations: configstore.New(reg, validator),
		Events:         events.New(reg, validator, eventNotifier),
		TokenCache:     tokenCache,
		HTTPClient:     &http.Client{Timeout: service.RequestTimeout},
		BaseURL:        service.BaseURL,
		TokenURL:       service.TokenURL,
		Defaults: api.Defaults{
			ClientID: service.ClientID,
			OrgID:    service.OrgID,
			Sandbox:  service.Sandbox,
		},
		CORSAllowOrigin: service.CORSOrigin,
	})

	address := fmt.Sprintf(":%d", service.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		rlog.Infoln("listen on", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.WithError(err).Errorln("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("graceful shutdown failed")
		os.Exit(1)
	}
}
