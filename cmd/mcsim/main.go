// Command mcsim runs the development record server and an end-to-end
// simulation of the offline-first engine against it: capture while
// unreachable, reconnect, sync, then load the reconciled list.
//
// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HairyGair/MileClear-sub000/internal/devserver"
	"github.com/HairyGair/MileClear-sub000/mcsqlite"
	"github.com/HairyGair/MileClear-sub000/mcsync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcsim",
		Short:         "MileClear sync engine simulator and dev server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "sqlite database path (default: temp file)")
	root.PersistentFlags().String("listen", "127.0.0.1:8090", "dev server listen address")
	root.PersistentFlags().String("jwt-secret", "dev-secret", "shared HS256 secret")
	root.PersistentFlags().String("user", "demo-user", "user id for minted tokens")
	root.PersistentFlags().String("device", "demo-device", "device id for minted tokens")

	viper.SetEnvPrefix("MCSIM")
	viper.AutomaticEnv()
	for _, name := range []string{"db", "listen", "jwt-secret", "user", "device"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(newServeCmd(), newTokenCmd(), newDemoCmd())
	return root
}

// newServeCmd runs the in-memory dev server until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory record API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			addr := viper.GetString("listen")
			srv := devserver.New(viper.GetString("jwt-secret"), logger)

			logger.Info("dev server listening", "addr", addr)
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return httpSrv.ListenAndServe()
		},
	}
}

// newTokenCmd mints a bearer token usable against the dev server.
func newTokenCmd() *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the dev server",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := mcsync.NewJWTAuth(viper.GetString("jwt-secret"))
			token, err := auth.GenerateToken(viper.GetString("user"), viper.GetString("device"), expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime")
	return cmd
}

// newDemoCmd runs the offline capture / reconnect / reconcile walkthrough.
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Simulate offline capture, reconnect and reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd)
		},
	}
}

func runDemo(ctx context.Context, cmd *cobra.Command) error {
	logger := newLogger()
	out := cmd.OutOrStdout()

	dbPath := viper.GetString("db")
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "mcsim")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "mcsim.db")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	secret := viper.GetString("jwt-secret")
	userID := viper.GetString("user")
	deviceID := viper.GetString("device")

	auth := mcsync.NewJWTAuth(secret)
	token, err := auth.GenerateToken(userID, deviceID, time.Hour)
	if err != nil {
		return err
	}

	addr := viper.GetString("listen")
	srv := devserver.New(secret, logger)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("dev server stopped", "err", serveErr)
		}
	}()
	defer httpSrv.Shutdown(context.Background())

	// Phase 1: the engine points at a dead port, so every push fails and
	// all captures stay pending locally.
	config := mcsqlite.DefaultConfig("http://127.0.0.1:1")
	config.Logger = logger
	session := mcsqlite.Session{
		UserID:   userID,
		DeviceID: deviceID,
		Token:    mcsqlite.StaticToken(token),
	}
	client, err := mcsqlite.NewClient(db, session, nil, config)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "== phase 1: capturing while offline ==")
	captures := []struct {
		entity mcsync.Entity
		fields mcsync.Fields
	}{
		{mcsync.EntityTrips, mcsync.Fields{
			Classification: "business", Platform: "uber",
			OccurredAt: time.Now().Add(-2 * time.Hour), Amount: 18.4,
			Payload: []byte(`{"notes":"airport run"}`),
		}},
		{mcsync.EntityFuelLogs, mcsync.Fields{
			Platform:   "shell",
			OccurredAt: time.Now().Add(-90 * time.Minute), Amount: 52.10,
			Payload: []byte(`{"litres":38.2}`),
		}},
		{mcsync.EntityEarnings, mcsync.Fields{
			Platform:   "uber",
			OccurredAt: time.Now().Add(-time.Hour), Amount: 131.75,
			Payload: []byte(`{"description":"saturday shift"}`),
		}},
	}
	for _, c := range captures {
		rec, createErr := client.CreateRecord(ctx, c.entity, c.fields)
		if createErr != nil {
			return createErr
		}
		fmt.Fprintf(out, "captured %s %s (synced=%v)\n", c.entity, rec.ID, rec.Synced())
	}

	view, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "offline earnings view: %d records, total %.2f, offline=%v, pending=%d\n",
		len(view.Records), view.TotalAmount, view.Offline, view.Pending)

	// Phase 2: connectivity returns. Re-point the fetcher at the live
	// server and drain the pending queue.
	fmt.Fprintln(out, "== phase 2: reconnect and sync ==")
	client.Fetcher.BaseURL = "http://" + addr
	synced, err := client.SyncPending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "server confirmed %d pending records\n", synced)

	view, err = client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reconciled earnings view: %d records, total %.2f, offline=%v, pending=%d\n",
		len(view.Records), view.TotalAmount, view.Offline, view.Pending)

	// Phase 3: bulk import with duplicate detection. The saturday shift
	// already synced above, so the matching CSV row must be skipped.
	fmt.Fprintln(out, "== phase 3: csv import with duplicate detection ==")
	csv := fmt.Sprintf("date,platform,amount,description\n%s,uber,131.75,saturday shift\n%s,bolt,54.20,sunday morning\n",
		time.Now().Add(-time.Hour).Format("2006-01-02"),
		time.Now().Format("2006-01-02"))
	preview, offline, err := client.Importer().Preview(ctx, csv, mcsync.ImportSourceCSV)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "preview: %d rows, %d duplicates (offline=%v)\n",
		len(preview.Rows), preview.DuplicateCount, offline)
	confirmed, err := client.Importer().Confirm(ctx, preview.Rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "import: %d imported, %d skipped\n", confirmed.Imported, confirmed.Skipped)

	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
