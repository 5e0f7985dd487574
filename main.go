package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/database"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/server"
)

func main() {
	app := &cli.App{
		Name:  "healthstack",
		Usage: "infrastructure health and recovery engine",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(*cli.Context) error {
					cfg, db, err := setup()
					if err != nil {
						return err
					}
					if err := repository.MigrateDB(cfg.DatabaseConfig, db); err != nil {
						return cli.Exit("database migration failed: "+err.Error(), 1)
					}
					log.Println("Database migration completed successfully")
					return nil
				},
			},
			{
				Name:  "server",
				Usage: "Start the application server",
				Action: func(*cli.Context) error {
					cfg, db, err := setup()
					if err != nil {
						return err
					}

					log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
					log.Println("Healthstack starting up...")

					srv, err := server.NewServer(cfg, db)
					if err != nil {
						return cli.Exit("server setup failed: "+err.Error(), 1)
					}
					if err := srv.Run(); err != nil {
						return cli.Exit("server startup failed: "+err.Error(), 1)
					}
					log.Println("Shutdown complete")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, cli.Exit("config initialization failed: "+err.Error(), 1)
	}
	db, err := database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		return nil, nil, cli.Exit("database initialization failed: "+err.Error(), 1)
	}
	return cfg, db, nil
}
