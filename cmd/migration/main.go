package main

import (
	"flag"
	"log"
	"path/filepath"
	"survey_engine/cmd/migration/versions"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDb(dbUri, sqliteDir string) (*gorm.DB, tenancy.Dialect) {
	if (dbUri == "") == (sqliteDir == "") {
		log.Fatalf("Must specify exactly one of --db_uri or --sqlite_dir")
	}

	if sqliteDir != "" {
		dsn := filepath.Join(sqliteDir, "registry.db") + "?_foreign_keys=on"
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatalf("error opening database connection: %v", err)
		}
		sqlDb, err := db.DB()
		if err != nil {
			log.Fatalf("error accessing sql db: %v", err)
		}
		sqlDb.SetMaxOpenConns(1)
		return db, tenancy.Sqlite{Dir: sqliteDir}
	}

	db, err := gorm.Open(postgres.Open(dbUri), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}
	return db, tenancy.Postgres{}
}

func main() {
	dbUri := flag.String("db_uri", "", "Postgres database URI")
	sqliteDir := flag.String("sqlite_dir", "", "Directory of the sqlite registry and namespace files")
	flag.Parse()

	db, dialect := openDb(*dbUri, *sqliteDir)

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Placeholder for the registry schema as first deployed.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
		{
			ID:      "1",
			Migrate: versions.Migration_1_unique_vote_index(dialect),
			// Rollback is not supported, new namespaces are created with the index.
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&schema.Survey{})
	})

	if err := migration.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migration completed successfully")
}
