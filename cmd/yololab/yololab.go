package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/server"
	"github.com/cyclopcam/yololab/server/config"
	"github.com/cyclopcam/yololab/server/inference"
)

func main() {
	parser := argparse.NewParser("yololab", "YOLO inference and dataset export server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (default " + config.DefaultFilename + " if it exists)", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, eg :8080. Overrides the config file.", Default: ""})
	modelName := parser.String("", "nn", &argparse.Options{Help: "Base detection model. Overrides the config file.", Default: ""})
	devices := parser.String("", "devices", &argparse.Options{Help: "Comma-separated inference devices to try, eg cuda,cpu. Overrides the config file.", Default: ""})
	warmup := parser.Flag("", "warmup", &argparse.Options{Help: "Load the inference backend at startup, instead of on the first request", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *modelName != "" {
		cfg.Model.Name = *modelName
	}
	if *devices != "" {
		cfg.Model.Devices = strings.Split(*devices, ",")
	}

	src, err := cfg.ModelSource()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg, inference.NewModelLoader(logger, src))
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *warmup {
		srv.Warmup()
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		logger.Close()
		os.Exit(1)
	}
	<-srv.ShutdownComplete
	logger.Close()
}
