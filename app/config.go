package app

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/gilburns/intuneomator/version"
)

func loadConfig() (*Config, []string, error) {
	// cli flags, using environment variables as a possible default.
	var (
		// directory layout
		flTitles = flag.String("titles", envString("INTUNEOMATOR_TITLES_DIR", "/usr/local/intuneomator/managed_titles"), "path to the managed title folders")
		flCache  = flag.String("cache", envString("INTUNEOMATOR_CACHE_DIR", "/usr/local/intuneomator/cache"), "path to the local artifact cache")
		flRuns   = flag.String("history", envString("INTUNEOMATOR_HISTORY_DB", "/usr/local/intuneomator/runs.db"), "path to the run history database")

		// graph credentials. either a client secret or a .p12 certificate.
		flTenant   = flag.String("tenant-id", envString("INTUNEOMATOR_TENANT_ID", ""), "entra tenant id")
		flClient   = flag.String("client-id", envString("INTUNEOMATOR_CLIENT_ID", ""), "entra application (client) id")
		flSecret   = flag.String("client-secret", envString("INTUNEOMATOR_CLIENT_SECRET", ""), "client secret for app authentication")
		flP12      = flag.String("client-cert", envString("INTUNEOMATOR_CLIENT_CERT", ""), "path to a .p12 certificate for app authentication")
		flP12Pass  = flag.String("client-cert-password", envString("INTUNEOMATOR_CLIENT_CERT_PASSWORD", ""), "password for the .p12 certificate")
		flLoginURL = flag.String("login-url", envString("INTUNEOMATOR_LOGIN_URL", ""), "token endpoint override. for testing")
		flGraphURL = flag.String("graph-url", envString("INTUNEOMATOR_GRAPH_URL", ""), "graph api base url override. for testing")

		// notification config
		flWebhook  = flag.String("webhook-url", envString("INTUNEOMATOR_WEBHOOK_URL", ""), "teams webhook url for run notifications")
		flNSQ      = flag.String("nsq", envString("INTUNEOMATOR_NSQ_ADDR", ""), "nsqd address for publishing run events")
		flNSQTopic = flag.String("nsq-topic", envString("INTUNEOMATOR_NSQ_TOPIC", "intuneomator.runs"), "nsq topic for run events")

		// daemon settings
		flListen   = flag.String("http-address", envString("INTUNEOMATOR_HTTP_LISTEN_ADDRESS", "127.0.0.1:8443"), "address for the daemon control api")
		flTrigger  = flag.String("trigger-dir", envString("INTUNEOMATOR_TRIGGER_DIR", ""), "directory watched for trigger files in daemon mode")
		flInterval = flag.Duration("watch-interval", envDuration("INTUNEOMATOR_WATCH_INTERVAL", 30*time.Second), "trigger directory poll interval")

		flKeep    = flag.Int("versions-to-keep", envInt("INTUNEOMATOR_VERSIONS_TO_KEEP", 2), "catalog versions retained per title")
		flVersion = flag.Bool("version", false, "print version information")
	)
	flag.Parse()

	if *flVersion {
		version.PrintFull()
		os.Exit(success)
	}

	config := &Config{}
	config.loadPaths(*flTitles, *flCache, *flRuns)
	config.loadGraphConfig(*flTenant, *flClient, *flSecret, *flP12, *flP12Pass, *flLoginURL, *flGraphURL)
	config.loadNotifyConfig(*flWebhook, *flNSQ, *flNSQTopic)
	config.loadDaemonConfig(*flListen, *flTrigger, *flInterval)
	config.loadRunConfig(*flKeep)
	if config.err != nil {
		return nil, nil, config.err
	}
	return config, flag.Args(), nil
}

// Config holds configuration values for intuneomator. The config values
// can be loaded from CLI flags or environment variables.
type Config struct {
	Paths  *PathConfig
	Graph  *GraphConfig
	Notify *NotifyConfig
	Daemon *DaemonConfig
	Run    *RunConfig

	// the err value is part of the config struct to allow multiple
	// 'loadConfigFoo' calls in sequence, without checking if err != nil every time.
	err error
}

// PathConfig holds the on-disk layout: the managed title folders, the
// artifact cache and the run history database.
type PathConfig struct {
	TitlesDir     string
	CacheDir      string
	HistoryDBPath string
}

func (c *Config) loadPaths(titles, cache, runs string) {
	if c.err != nil {
		return
	}
	config := &PathConfig{
		TitlesDir:     titles,
		CacheDir:      cache,
		HistoryDBPath: runs,
	}
	if titles == "" {
		c.err = errors.New("managed titles directory missing in path config")
		return
	}
	if cache == "" {
		c.err = errors.New("cache directory missing in path config")
		return
	}
	c.Paths = config
}

// GraphConfig holds the Microsoft Graph app registration. Exactly one of
// ClientSecret or CertificatePath must be set.
type GraphConfig struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	CertificatePath string
	CertificatePass string
	LoginURL        string
	BaseURL         string
}

func (c *Config) loadGraphConfig(tenant, client, secret, p12, p12pass, loginURL, baseURL string) {
	if c.err != nil {
		return
	}
	config := &GraphConfig{
		TenantID:        tenant,
		ClientID:        client,
		ClientSecret:    secret,
		CertificatePath: p12,
		CertificatePass: p12pass,
		LoginURL:        loginURL,
		BaseURL:         baseURL,
	}
	if tenant == "" || client == "" {
		c.err = errors.New("tenant-id and client-id are required")
		return
	}
	if secret == "" && p12 == "" {
		c.err = errors.New("must provide a client secret or a client certificate")
		return
	}
	if secret != "" && p12 != "" {
		c.err = errors.New("client secret and client certificate are mutually exclusive")
		return
	}
	c.Graph = config
}

// NotifyConfig holds the notification targets. Both are optional; when
// neither is set run results are only logged.
type NotifyConfig struct {
	WebhookURL string
	NSQAddr    string
	NSQTopic   string
}

func (c *Config) loadNotifyConfig(webhook, nsqAddr, nsqTopic string) {
	if c.err != nil {
		return
	}
	c.Notify = &NotifyConfig{
		WebhookURL: webhook,
		NSQAddr:    nsqAddr,
		NSQTopic:   nsqTopic,
	}
}

// DaemonConfig holds daemon-mode settings: the control API listen address
// and the trigger directory watch.
type DaemonConfig struct {
	ListenAddr    string
	TriggerDir    string
	WatchInterval time.Duration
}

func (c *Config) loadDaemonConfig(listen, triggerDir string, interval time.Duration) {
	if c.err != nil {
		return
	}
	config := &DaemonConfig{
		ListenAddr:    listen,
		TriggerDir:    triggerDir,
		WatchInterval: interval,
	}
	if listen == "" {
		config.ListenAddr = "127.0.0.1:8443"
	}
	c.Daemon = config
}

type RunConfig struct {
	VersionsToKeep int
}

func (c *Config) loadRunConfig(keep int) {
	if c.err != nil {
		return
	}
	if keep < 1 {
		c.err = errors.New("versions-to-keep must be at least 1")
		return
	}
	c.Run = &RunConfig{VersionsToKeep: keep}
}

func envString(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}

func envInt(key string, def int) int {
	if env := os.Getenv(key); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	return def
}
