package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/config"
	"github.com/arachnonestor/motion-supervisor/internal/evbclient"
	"github.com/arachnonestor/motion-supervisor/internal/httpapi"
	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
	"github.com/arachnonestor/motion-supervisor/internal/supervisor"
	"github.com/arachnonestor/motion-supervisor/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the motion supervisor, sensor poller, and HTTP/SSE adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	bus, closeBus, err := motorbus.Open(motorbus.Config{
		SerialPort:      cfg.Motorbus.SerialPort,
		BaudRate:        cfg.Motorbus.BaudRate,
		Timeout:         cfg.Motorbus.Timeout,
		Settle:          cfg.Motorbus.Settle,
		RS485DirControl: cfg.Motorbus.RS485DirControl,
	})
	if err != nil {
		return fmt.Errorf("serve: opening motor bus: %w", err)
	}
	defer closeBus()

	sup := supervisor.New(supervisorConfig(cfg), bus)

	sensorAddr := net.JoinHostPort(cfg.Sensor.Host, fmt.Sprintf("%d", cfg.Sensor.Port))
	dial := func() (evbclient.Conn, error) {
		return evbclient.Dial(sensorAddr, cfg.Sensor.Timeout)
	}
	poller := supervisor.NewPoller(sup, dial)

	srv := httpapi.New(sup)
	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: srv}

	var publisher *telemetry.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = telemetry.Connect(telemetry.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			Site:      cfg.MQTT.Site,
			Device:    cfg.MQTT.Device,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		})
		if err != nil {
			return fmt.Errorf("serve: connecting telemetry: %w", err)
		}
		defer publisher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return poller.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if publisher != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Motion.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					publisher.Publish(sup.GetStatus())
				}
			}
		})
	}

	logrus.WithField("listen", cfg.HTTP.ListenAddr).Info("serving")
	err = g.Wait()

	sup.Shutdown(2 * time.Second)
	return err
}

func supervisorConfig(cfg *config.Configuration) supervisor.Config {
	winches := make([]supervisor.WinchID, len(cfg.Motion.WinchIDs))
	for i, w := range cfg.Motion.WinchIDs {
		winches[i] = supervisor.WinchID(w)
	}
	slaves := make(map[supervisor.WinchID]byte, len(cfg.Motion.ModbusSlaves))
	for k, v := range cfg.Motion.ModbusSlaves {
		var w int
		if _, err := fmt.Sscanf(k, "%d", &w); err == nil {
			slaves[supervisor.WinchID(w)] = byte(v)
		}
	}
	return supervisor.Config{
		WinchIDs:        winches,
		HallThreshold:   cfg.Motion.HallThreshold,
		HallMax:         cfg.Motion.HallMax,
		HallRPMMax:      cfg.Motion.HallRPMMax,
		HallRPMMin:      cfg.Motion.HallRPMMin,
		PollInterval:    cfg.Motion.PollInterval,
		StaleTimeout:    cfg.Motion.StaleTimeout,
		BackoffInitial:  cfg.Motion.BackoffInitial,
		BackoffMax:      cfg.Motion.BackoffMax,
		BackoffFactor:   cfg.Motion.BackoffFactor,
		UseBundle:       cfg.Motion.UseBundle,
		UsePower:        cfg.Motion.UsePower,
		UseIMU:          cfg.Motion.UseIMU,
		ModbusAddresses: slaves,
		DefaultSlave:    byte(cfg.Motion.DefaultSlave),
	}
}
