package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moshimoshi/fukushu/internal/deck"
	"github.com/moshimoshi/fukushu/internal/observability"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/internal/version"
	"github.com/moshimoshi/fukushu/localstore"
	"github.com/moshimoshi/fukushu/server"
	"github.com/moshimoshi/fukushu/store"
	"github.com/moshimoshi/fukushu/store/db"
	"github.com/moshimoshi/fukushu/sync"
)

// metricsLogInterval paces the periodic metrics rollup log.
const metricsLogInterval = 15 * time.Minute

var (
	instanceProfile *profile.Profile

	rootCmd = &cobra.Command{
		Use:   "fukushu",
		Short: "A spaced-repetition review service for Japanese learners.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initProfile()
		},
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if instanceProfile.Secret == "" && instanceProfile.Mode == "prod" {
				slog.Error("refusing to start without FUKUSHU_SECRET in prod mode")
				return
			}

			storeInstance, err := newStore(ctx)
			if err != nil {
				slog.Error("failed to open hosted store",
					slog.String("error", err.Error()))
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				slog.Error("failed to create server",
					slog.String("error", err.Error()))
				return
			}

			scheduler := gocron.NewScheduler(time.UTC)
			if _, err := scheduler.Every(metricsLogInterval).Do(func() {
				storeInstance.Recorder().LogSummaries(slog.Default())
			}); err != nil {
				slog.Error("failed to schedule metrics rollup",
					slog.String("error", err.Error()))
				return
			}

			closeSyncHub, err := startSyncHub(ctx, storeInstance, scheduler)
			if err != nil {
				slog.Error("failed to start sync hub",
					slog.String("error", err.Error()))
				return
			}

			scheduler.StartAsync()

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-c
				slog.Info(fmt.Sprintf("received signal %s, shutting down", sig))
				scheduler.Stop()
				closeSyncHub()
				s.Shutdown(ctx)
				cancel()
			}()

			printGreetings()

			if err := s.Start(ctx); err != nil && err != http.ErrServerClosed {
				slog.Error("failed to start server",
					slog.String("error", err.Error()))
				cancel()
			}

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}

	importFile  string
	importUser  string
	importSheet string
	importTags  []string

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Bulk-import review items from an XLSX deck",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			storeInstance, err := newStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := storeInstance.Close(); err != nil {
					slog.Error("failed to close store",
						slog.String("error", err.Error()))
				}
			}()

			result, err := deck.Import(ctx, storeInstance, deck.Config{
				Path:   importFile,
				Sheet:  importSheet,
				UserID: importUser,
				Tags:   importTags,
			})
			if err != nil {
				return err
			}
			fmt.Printf("imported %d/%d rows (%d skipped)\n", result.Created, result.TotalRows, result.Skipped)
			for _, rowErr := range result.Errors {
				fmt.Printf("  %s\n", rowErr)
			}
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version of fukushu",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(instanceProfile.Version)
		},
	}
)

func initProfile() error {
	instanceProfile = &profile.Profile{
		Mode:        viper.GetString("mode"),
		Addr:        viper.GetString("addr"),
		Port:        viper.GetInt("port"),
		Data:        viper.GetString("data"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		InstanceURL: viper.GetString("instance-url"),
		Version:     version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return errors.Wrap(err, "failed to validate profile")
	}
	return nil
}

func newStore(ctx context.Context) (*store.Store, error) {
	driver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	recorder := observability.NewRecorder(observability.DefaultWindowSize)
	storeInstance := store.New(driver, instanceProfile, recorder)
	if err := storeInstance.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

// startSyncHub opens the device-local store and mirrors it against the
// hosted store when the instance acts as a signed-in device. Bootstrap
// failures are logged, not fatal: the device stays usable offline.
func startSyncHub(ctx context.Context, hosted *store.Store, scheduler *gocron.Scheduler) (func(), error) {
	if instanceProfile.User == "" {
		return func() {}, nil
	}

	local, err := localstore.Open(filepath.Join(instanceProfile.Data, "device"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open device store")
	}

	cloud := sync.NewCloud(hosted, sync.Options{
		DSN:        instanceProfile.DSN,
		BatchSize:  instanceProfile.SyncBatchSize,
		RatePerSec: instanceProfile.SyncRatePerSec,
	})
	cloud.Initialize(instanceProfile.User, instanceProfile.Premium)
	manager := sync.NewManager(local, cloud, instanceProfile.User)

	if err := cloud.ScheduleFlush(scheduler, time.Duration(instanceProfile.SyncFlushMinutes)*time.Minute); err != nil {
		return nil, err
	}

	if err := manager.Bootstrap(ctx); err != nil {
		slog.Warn("sync bootstrap incomplete",
			slog.String("error", err.Error()))
	}
	go func() {
		if err := manager.Run(ctx); err != nil {
			slog.Warn("change feed stopped",
				slog.String("error", err.Error()))
		}
	}()

	return func() {
		if err := local.Close(); err != nil {
			slog.Error("failed to close device store",
				slog.String("error", err.Error()))
		}
	}, nil
}

func printGreetings() {
	fmt.Printf(`---
Server profile
version: %s
data: %s
addr: %s
port: %d
mode: %s
driver: %s
---
`, instanceProfile.Version, instanceProfile.Data, instanceProfile.Addr, instanceProfile.Port, instanceProfile.Mode, instanceProfile.Driver)
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 8081)
	viper.SetEnvPrefix("fukushu")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your instance")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn", "instance-url"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	importCmd.Flags().StringVar(&importFile, "file", "", "path to the XLSX deck")
	importCmd.Flags().StringVar(&importUser, "user", "", "user to import for")
	importCmd.Flags().StringVar(&importSheet, "sheet", deck.DefaultSheet, "sheet to read")
	importCmd.Flags().StringSliceVar(&importTags, "tags", nil, "tags applied to every imported item")
	cobra.CheckErr(importCmd.MarkFlagRequired("file"))
	cobra.CheckErr(importCmd.MarkFlagRequired("user"))

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
