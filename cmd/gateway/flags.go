package main

import (
	"flag"
	"time"

	"go.jonnrb.io/apgw/config"
	"go.jonnrb.io/apgw/driver/hostapd"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/status"
)

var (
	healthCheck = flag.Bool("health_check", false, "If set, connects to the internal healthcheck endpoint and exits.")
	httpAddr    = flag.String("http.addr", "0.0.0.0:8080", "Port to serve metrics, health, status, and updates on")
	configPath  = flag.String("config", "", "YAML or JSON file of startup parameters (flags override it)")

	bringUpTimeout = flag.Duration("bringup.timeout", gateway.DefaultBringUpTimeout, "How long to wait for the wired link before starting the AP anyway")
	statusPeriod   = flag.Duration("status.period", status.DefaultPeriod, "How often to log a status summary")
	loopInterval   = flag.Duration("loop.interval", 100*time.Millisecond, "Period of the service loop")

	hostapdCmd      = flag.String("ap.hostapd_cmd", hostapd.DefaultCommand, "Command used to run hostapd (the config path is appended)")
	hostapdConf     = flag.String("ap.hostapd_conf", hostapd.DefaultConfPath, "Where the hostapd config is written")
	writeResolvConf = flag.Bool("eth.write_resolv_conf", false, "Write the wired DNS server to /etc/resolv.conf")
	upstream        = flag.String("health.upstream", "", "If set, /health also requires a HEAD request to this URL to succeed")
)

func init() {
	p := config.Defaults()
	p.Bind(flag.CommandLine)
}
