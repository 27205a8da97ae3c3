// Command tickcap is a standalone binary presentation of
// factory.Controller, for operators who want to run the passive observer
// without embedding the Go module or talking to the HTTP surface.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yawning/tickcap/factory"
	"github.com/yawning/tickcap/httpapi"
	"github.com/yawning/tickcap/metrics"
)

var log = logrus.StandardLogger()

func newController() (*factory.Controller, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return factory.NewController(factory.DefaultPolicy(), log, m)
}

// newControllerFunc is indirected so tests can substitute a Controller
// built with a cheap TestPolicy instead of constructing a real one.
var newControllerFunc = newController

var rootCmd = &cobra.Command{
	Use:   "tickcap",
	Short: "passive decrypting observer for the game's tick protocol",
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "list capture-capable network devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newControllerFunc()
		if err != nil {
			return err
		}
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return nil
	},
}

var captureDevice string

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "capture live traffic from a network device until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if captureDevice == "" {
			return fmt.Errorf("tickcap: --device is required")
		}
		c, err := newControllerFunc()
		if err != nil {
			return err
		}
		c.SelectDevice(captureDevice)
		if err := c.Start(); err != nil {
			return err
		}
		runUntilInterrupted(c)
		return nil
	},
}

var replayFile string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "replay a saved capture file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return fmt.Errorf("tickcap: --file is required")
		}
		c, err := newControllerFunc()
		if err != nil {
			return err
		}
		if err := c.StartFromFile(replayFile); err != nil {
			return err
		}
		runUntilInterrupted(c)
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newControllerFunc()
		if err != nil {
			return err
		}
		srv := httpapi.NewServer(c, log)
		log.WithField("addr", serveAddr).Info("tickcap: serving")
		return http.ListenAndServe(serveAddr, srv)
	},
}

// runUntilInterrupted drains and prints frames once a second until SIGINT
// or SIGTERM, then stops the controller's capture loop.
func runUntilInterrupted(c *factory.Controller) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			c.Stop()
			return
		case <-ticker.C:
			for _, f := range c.Drain() {
				b, err := json.Marshal(f)
				if err != nil {
					log.WithError(err).Warn("tickcap: failed to marshal frame")
					continue
				}
				fmt.Println(string(b))
			}
		}
	}
}

func init() {
	captureCmd.Flags().StringVar(&captureDevice, "device", "", "network device to capture from")
	replayCmd.Flags().StringVar(&replayFile, "file", "", "pcap file to replay")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to serve the HTTP control surface on")

	rootCmd.AddCommand(listDevicesCmd, captureCmd, replayCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("tickcap: command failed")
	}
}
