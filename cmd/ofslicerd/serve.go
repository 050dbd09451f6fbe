package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/ofslicer/ofslicer/pkg/api"
	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/redisdriver"
	"github.com/ofslicer/ofslicer/pkg/settings"
	"github.com/ofslicer/ofslicer/pkg/slicer"
	"github.com/ofslicer/ofslicer/pkg/sshtunnel"
	"github.com/ofslicer/ofslicer/pkg/util"
	"github.com/ofslicer/ofslicer/pkg/version"
)

var (
	serveListen     string
	serveRedisAddr  string
	serveDryRun     bool
	serveSSHBastion string
	serveSSHUser    string
	serveSSHPass    string
	serveSSHPort    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the slicing controller and its HTTP configuration API",
	Long: `serve attaches to every datapath that announces itself on the Redis
event channel, runs the tuple-slicing pipeline against it, and exposes
the HTTP configuration API for getting and applying slice config.

With --dry-run no real transport is used: every flow/group mutation is
logged and discarded, useful for validating a configuration against the
pipeline's invariants without a switch.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from settings)")
	serveCmd.Flags().StringVar(&serveRedisAddr, "redis-addr", "", "Redis transport address (default from settings)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "log flow/group mutations instead of sending them to a switch")
	serveCmd.Flags().StringVar(&serveSSHBastion, "ssh-bastion", "", "SSH bastion host to tunnel the Redis transport through")
	serveCmd.Flags().StringVar(&serveSSHUser, "ssh-user", "", "SSH bastion username")
	serveCmd.Flags().StringVar(&serveSSHPass, "ssh-pass", "", "SSH bastion password")
	serveCmd.Flags().IntVar(&serveSSHPort, "ssh-port", 22, "SSH bastion port")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := settings.Load()
	if err != nil {
		util.Logger.WithField("error", err).Warn("could not load settings, using defaults")
		s = &settings.Settings{}
	}
	if s.LogJSON {
		util.SetJSONFormat()
	}

	listen := serveListen
	if listen == "" {
		listen = s.GetListenAddr()
	}
	redisAddr := serveRedisAddr
	if redisAddr == "" {
		redisAddr = s.GetRedisAddr()
	}
	learnTimeout := uint16(s.GetLearnIdleTimeoutSeconds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var d driver.Driver
	var events <-chan driver.Event
	if serveDryRun {
		util.Logger.Info("running with --dry-run: no datapath will ever attach")
		d = driver.LogDriver{}
	} else {
		if serveSSHBastion != "" {
			tun, err := sshtunnel.Dial(serveSSHBastion, serveSSHUser, serveSSHPass, serveSSHPort, redisAddr)
			if err != nil {
				return fmt.Errorf("dialing ssh bastion: %w", err)
			}
			defer tun.Close()
			redisAddr = tun.LocalAddr()
			util.Logger.WithField("local", redisAddr).Info("tunnelling redis transport through ssh bastion")
		}

		rd := redisdriver.New(redisAddr)
		if err := rd.Connect(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", redisAddr, err)
		}
		defer rd.Close()
		d = rd
		events = rd.AllEvents(ctx)
	}

	controller := slicer.NewController(d, learnTimeout)
	go dispatchEvents(ctx, controller, events)

	handlers := api.NewHandlers(controller, version.Version, learnTimeout)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: listen, Handler: router}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		util.Logger.WithField("addr", listen).Info("ofslicerd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Logger.WithField("error", err).Fatal("http server failed")
		}
	}()

	<-stop
	util.Logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// dispatchEvents attaches/detaches datapaths as they announce
// themselves and routes every other event into the controller. events
// is nil in --dry-run mode, since there is no transport to announce
// anything on.
func dispatchEvents(ctx context.Context, c *slicer.Controller, events <-chan driver.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case driver.EventDatapathEnter:
				if err := c.Attach(ev.Dpid, ev.Ports); err != nil {
					util.Logger.WithField("dpid", fmt.Sprintf("%016x", ev.Dpid)).
						WithField("error", err).Warn("attach failed")
				}
			case driver.EventDatapathLeave:
				c.Detach(ev.Dpid)
			default:
				if err := c.HandleEvent(ev); err != nil {
					util.Logger.WithField("dpid", fmt.Sprintf("%016x", ev.Dpid)).
						WithField("error", err).Warn("event handling failed")
				}
			}
		}
	}
}
