package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into server.Config
// so main.go can validate and map.
type cliConfig struct {
	listenAddr        string
	logLevel          string
	recordAll         bool
	recordDir         string
	chunkSize         uint
	showVersion       bool
	relayDestinations []string // NEW: Multiple destination URLs for relay
	edgeOrigins       []string // origin servers pulled from on a local play-miss
	edgeUpstreamFLV   bool     // pull EdgeOrigins over HTTP-FLV instead of RTMP
	edgeTokenTraverse bool     // validate a connecting client's token against EdgeOrigins before accepting it
	originCoworkers   []string // coworker nodes queried for an origin-cluster play redirect
	vhostDisabled     bool     // reject every connect (vhost.enabled=false)
	refererEnabled    bool     // turn on referer checking for publish/play
	refererPlayDomains    []string // allowed pageUrl host suffixes for play, when refererEnabled
	refererPublishDomains []string // allowed pageUrl host suffixes for publish, when refererEnabled
	// Hook configuration (backward compatible - all optional)
	hookScripts     []string // event_type=script_path pairs
	hookWebhooks    []string // event_type=webhook_url pairs
	hookStdioFormat string   // "json", "env", or "" (disabled)
	hookTimeout     string   // timeout duration (e.g. "30s")
	hookQueueDepth  int      // pending hook-task backlog before TriggerEvent blocks

	// Additional protocol front ends, all optional and off by default so a
	// plain RTMP deployment needs no new flags.
	httpListenAddr string   // HTTP-FLV/TS egress + WHIP publish; "" disables the HTTP front end
	gbListenAddr   string   // GB28181 media TCP listener; "" disables GB28181 ingest
	gbDevices      []string // ssrc=stream_key pairs, pre-bound before media arrives
	corsEnabled    bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("rtmp-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var relayDests stringSliceFlag
	var hookScripts stringSliceFlag
	var hookWebhooks stringSliceFlag
	var gbDevices stringSliceFlag
	var edgeOrigins stringSliceFlag
	var originCoworkers stringSliceFlag
	var refererPlayDomains stringSliceFlag
	var refererPublishDomains stringSliceFlag

	fs.StringVar(&cfg.listenAddr, "listen", ":1935", "TCP listen address (e.g. :1935 or 0.0.0.0:1935)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.recordAll, "record-all", false, "Enable recording of all streams to -record-dir")
	fs.StringVar(&cfg.recordDir, "record-dir", "recordings", "Directory to write FLV recordings")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 4096, "Initial outbound chunk size")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.Var(&relayDests, "relay-to", "RTMP destination URL (can be specified multiple times)")
	fs.Var(&edgeOrigins, "edge-origin", "Origin server host:port pulled from on a local play-miss (can be specified multiple times; enables edge mode)")
	fs.BoolVar(&cfg.edgeUpstreamFLV, "edge-upstream-flv", false, "Pull -edge-origin over HTTP-FLV instead of RTMP")
	fs.BoolVar(&cfg.edgeTokenTraverse, "edge-token-traverse", false, "Validate a connecting client's token against -edge-origin before accepting it")
	fs.Var(&originCoworkers, "origin-coworker", "Coworker host:port queried for an origin-cluster play redirect (can be specified multiple times)")
	fs.BoolVar(&cfg.vhostDisabled, "vhost-disabled", false, "Reject every incoming connect")
	fs.BoolVar(&cfg.refererEnabled, "referer-enabled", false, "Enforce the -referer-play-domain/-referer-publish-domain allow lists")
	fs.Var(&refererPlayDomains, "referer-play-domain", "Allowed pageUrl host suffix for playing, when -referer-enabled (can be specified multiple times)")
	fs.Var(&refererPublishDomains, "referer-publish-domain", "Allowed pageUrl host suffix for publishing, when -referer-enabled (can be specified multiple times)")

	// Hook configuration flags (all optional for backward compatibility)
	fs.Var(&hookScripts, "hook-script", "Hook script in format event_type=script_path (can be specified multiple times)")
	fs.Var(&hookWebhooks, "hook-webhook", "Hook webhook in format event_type=webhook_url (can be specified multiple times)")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&cfg.hookQueueDepth, "hook-queue-depth", 256, "Pending hook-task backlog before events block the caller")

	fs.StringVar(&cfg.httpListenAddr, "http-listen", "", "HTTP-FLV/TS egress + WHIP publish listen address (e.g. :8080); empty disables the HTTP front end")
	fs.StringVar(&cfg.gbListenAddr, "gb-listen", "", "GB28181 media TCP listen address (e.g. :9000); empty disables GB28181 ingest")
	fs.Var(&gbDevices, "gb-device", "Static GB28181 device binding in format ssrc=stream_key (can be specified multiple times)")
	fs.BoolVar(&cfg.corsEnabled, "cors", true, "Enable permissive CORS headers on the HTTP front end")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.relayDestinations = relayDests
	cfg.edgeOrigins = edgeOrigins
	cfg.hookScripts = hookScripts
	cfg.hookWebhooks = hookWebhooks
	cfg.gbDevices = gbDevices
	cfg.originCoworkers = originCoworkers
	cfg.refererPlayDomains = refererPlayDomains
	cfg.refererPublishDomains = refererPublishDomains

	if cfg.chunkSize == 0 || cfg.chunkSize > 65536 {
		return nil, errors.New("chunk-size must be between 1 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	// Validate hook configuration
	if err := validateHookConfig(cfg); err != nil {
		return nil, err
	}

	// Validate relay destinations
	for _, dest := range cfg.relayDestinations {
		if err := validateRelayDestination(dest); err != nil {
			return nil, fmt.Errorf("invalid relay destination %q: %w", dest, err)
		}
	}

	// Validate GB28181 static device bindings
	for _, dev := range cfg.gbDevices {
		if _, _, err := parseGBDevice(dev); err != nil {
			return nil, fmt.Errorf("invalid gb-device %q: %w", dev, err)
		}
	}

	return cfg, nil
}

// stringSliceFlag implements flag.Value for multiple string values
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// parseGBDevice parses a "-gb-device" value of the form ssrc=stream_key.
func parseGBDevice(assignment string) (ssrc uint32, streamKey string, err error) {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("expected ssrc=stream_key")
	}
	n, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("ssrc must be a uint32: %w", err)
	}
	return uint32(n), parts[1], nil
}

// validateRelayDestination validates an RTMP URL
func validateRelayDestination(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "rtmp" {
		return fmt.Errorf("URL must use rtmp:// scheme, got %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// validateHookConfig validates hook configuration settings
func validateHookConfig(cfg *cliConfig) error {
	// Validate stdio format
	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}

	// Validate timeout
	if cfg.hookTimeout != "" {
		if _, err := parseTimeDuration(cfg.hookTimeout); err != nil {
			return fmt.Errorf("invalid hook-timeout %q: %w", cfg.hookTimeout, err)
		}
	}

	// Validate queue depth
	if cfg.hookQueueDepth < 1 || cfg.hookQueueDepth > 100000 {
		return fmt.Errorf("hook-queue-depth must be between 1 and 100000, got %d", cfg.hookQueueDepth)
	}

	// Validate hook scripts format (event_type=script_path)
	for _, script := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", script); err != nil {
			return err
		}
	}

	// Validate hook webhooks format (event_type=webhook_url)
	for _, webhook := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", webhook); err != nil {
			return err
		}
	}

	return nil
}

// parseTimeDuration parses a duration string (handles common formats)
func parseTimeDuration(s string) (string, error) {
	// Simple validation - just check if it looks like a duration
	if len(s) < 2 {
		return "", fmt.Errorf("duration too short")
	}

	// Check suffix
	suffix := s[len(s)-1:]
	if suffix != "s" && suffix != "m" && suffix != "h" {
		return "", fmt.Errorf("duration must end with s, m, or h")
	}

	return s, nil
}

// validateHookAssignment validates event_type=value format
func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}

	eventType, value := parts[0], parts[1]

	if eventType == "" {
		return fmt.Errorf("invalid %s: event type cannot be empty", flagName)
	}

	if value == "" {
		return fmt.Errorf("invalid %s: value cannot be empty", flagName)
	}

	// Validate event type (basic validation - hook manager will validate against known types)
	validEventTypes := map[string]bool{
		"connection_accept":      true,
		"connection_close":       true,
		"handshake_complete":     true,
		"stream_create":          true,
		"stream_delete":          true,
		"publish_start":          true,
		"publish_stop":           true,
		"play_start":             true,
		"play_stop":              true,
		"codec_detected":         true,
		"edge_ingest_connected":  true,
		"edge_ingest_stopped":    true,
		"gb_session_established": true,
		"ps_recover_mode":        true,
	}

	if !validEventTypes[eventType] {
		return fmt.Errorf("invalid %s: unknown event type %q", flagName, eventType)
	}

	return nil
}
