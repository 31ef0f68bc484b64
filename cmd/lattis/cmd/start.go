package cmd

import (
	"context"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/metrics"
	"github.com/lattisledger/lattis/node"
	"github.com/lattisledger/lattis/store/database"
	"github.com/lattisledger/lattis/store/database/backend"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Lattis node.",
	Long:  ``,
	Run:   runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) {
	db, err := openDatabase()
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("Failed to open database")
	}

	n := node.NewNode(&node.Params{
		ChainID:      viper.GetString(common.CfgChainID),
		MinerAddress: common.HexToAddress(viper.GetString(common.CfgCoordinatorMinerAddress)),
		MinerStake:   uint64(viper.GetInt64(common.CfgCoordinatorMinerStake)),
		DB:           db,
		Registerer:   prometheus.DefaultRegisterer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("Failed to start node")
	}
	metrics.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down...")
	n.Stop()
	n.Wait()
}

func openDatabase() (database.Database, error) {
	dir := viper.GetString(common.CfgStorageDirectory)
	if dir == "" {
		dir = path.Join(cfgPath, "db")
	}

	switch viper.GetString(common.CfgStorageBackend) {
	case "badger":
		return backend.NewBadgerDatabase(dir)
	case "memory":
		return backend.NewMemDatabase(), nil
	default:
		return backend.NewLDBDatabase(dir, 0, 0)
	}
}
