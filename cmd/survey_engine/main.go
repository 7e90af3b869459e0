package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/config"
	"survey_engine/surveys/provisioning"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/services"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils/logging"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func initDb(env *config.Env) (*gorm.DB, tenancy.Dialect) {
	var db *gorm.DB
	var dialect tenancy.Dialect
	var err error

	if env.UsesSqlite() {
		if err := os.MkdirAll(env.SqliteDir, 0777); err != nil {
			log.Fatalf("error creating sqlite dir: %v", err)
		}
		dsn := filepath.Join(env.SqliteDir, "registry.db") + "?_foreign_keys=on&_busy_timeout=5000"
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig())
		if err != nil {
			log.Fatalf("error opening database connection: %v", err)
		}

		sqlDb, err := db.DB()
		if err != nil {
			log.Fatalf("error accessing sql db: %v", err)
		}
		// Attached namespaces only exist on the connection that attached them.
		sqlDb.SetMaxOpenConns(1)
		sqlDb.SetConnMaxLifetime(0)
		sqlDb.SetConnMaxIdleTime(0)

		dialect = tenancy.Sqlite{Dir: env.SqliteDir}
	} else {
		db, err = gorm.Open(postgres.Open(env.DatabaseUri), gormConfig())
		if err != nil {
			log.Fatalf("error opening database connection: %v", err)
		}
		dialect = tenancy.Postgres{}
	}

	if err := db.AutoMigrate(&schema.Survey{}); err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	slog.Info("database initialized", "dialect", dialect.Name())

	return db, dialect
}

func openLogFile(dir, name string) *os.File {
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file %v: %v", name, err)
	}
	return file
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Fatal(err)
		}
	}
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("failed to load environment variables: %v", err)
	}

	if err := os.MkdirAll(env.LogDir, 0777); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile := openLogFile(env.LogDir, "survey_engine.log")
	defer logFile.Close()

	auditLog := openLogFile(env.LogDir, "audit.log")
	defer auditLog.Close()

	logging.Init(logFile, env.Debug)

	db, dialect := initDb(env)
	store := tenancy.NewStore(db, dialect)

	if err := provisioning.NewService(store).Reattach(context.Background()); err != nil {
		log.Fatalf("error reattaching survey namespaces: %v", err)
	}

	adminKey, err := auth.NewAdminKey(env.AdminApiKey)
	if err != nil {
		log.Fatalf("error creating admin key: %v", err)
	}

	engine := services.NewSurveyEngine(
		store,
		adminKey,
		auth.NewJwtManager([]byte(env.JwtSecret), env.JwtExpiry()),
		auth.NewAuditLogger(auditLog),
		services.Options{Debug: env.Debug, RateLimitPerMinute: env.RateLimitPerMinute},
	)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   env.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", engine.Routes())

	slog.Info("starting server", "app", env.AppName, "port", *port)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
}
