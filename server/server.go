package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clouded-Sabre/Raw-TCP/config"
	"github.com/Clouded-Sabre/Raw-TCP/device"
	"github.com/Clouded-Sabre/Raw-TCP/filter"
	"github.com/Clouded-Sabre/Raw-TCP/lib"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Configuration file")
	flag.Parse()

	tcpCoreConfig, connConfig, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}
	cfg := config.AppConfig

	out, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println("Effective configuration:")
	fmt.Println(string(out))

	dev, err := device.Open(cfg.Device, tcpCoreConfig.MaxFrameSize)
	if err != nil {
		log.Fatalln("Error opening frame device:", err)
	}

	// Only a raw socket shares its segments with the host stack, which would
	// answer them with RST.
	var f filter.Filter
	if cfg.Device.Type == config.DeviceRawIP && cfg.Service.Filter != "" {
		f, err = filter.NewFilter(cfg.Service.Filter)
		if err != nil {
			dev.Close()
			log.Fatalln("Error creating RST filter:", err)
		}
	}

	tcpCoreObj, err := lib.NewTcpCore(tcpCoreConfig, dev, f)
	if err != nil {
		dev.Close()
		log.Fatalln("Error creating tcp core:", err)
	}

	if _, err := tcpCoreObj.ListenTcp(cfg.Service.IP, cfg.Service.Port, connConfig); err != nil {
		tcpCoreObj.Close()
		log.Fatalf("Error listening at %s:%d: %s\n", cfg.Service.IP, cfg.Service.Port, err)
	}

	// Listen for interrupt signal (Ctrl+C)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	sig := <-signalChan
	log.Printf("Received %s. Shutting down...\n", sig)

	if err := tcpCoreObj.Close(); err != nil {
		log.Println("Error closing tcp core:", err)
		os.Exit(1)
	}
}
