// Package config parses the broker's CLI surface with pflag, grounded on
// original_source/src/cli.rs's Config struct (expanded to the fuller flag
// set of spec.md §6) and modeled loosely on the teacher's cobra/pflag-backed
// command wiring.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/scalesocket/scalesocket/internal/cache"
	"github.com/scalesocket/scalesocket/internal/codec"
)

// Config is the fully parsed and validated broker configuration.
type Config struct {
	Addr string

	Cmd  string
	Args []string

	Binary bool

	TCP       bool
	TCPStart  uint16
	TCPEnd    uint16
	DelaySec  float64
	delaySet  bool

	ClientFraming codec.Framing
	ServerFraming codec.Framing

	JoinMsg  string
	LeaveMsg string

	CacheEnabled bool
	CacheSize    int
	CachePolicy  cache.Policy
	CachePersist bool

	PassEnv []string

	StaticDir string

	Metrics bool
	API     bool

	Oneshot bool

	LogFormat string
	Verbosity int
}

const (
	defaultAddr        = "0.0.0.0:9000"
	defaultTCPStart    = 9001
	defaultTCPEnd      = 9999
	defaultAttachDelay = 1.0
)

var defaultPassEnv = []string{"PATH", "DYLD_LIBRARY_PATH"}

// Parse parses argv (excluding the program name) into a validated Config.
// Positional arguments are <cmd> [<args...>]; args after a literal "--" are
// passed through to the child verbatim.
func Parse(argv []string) (Config, error) {
	fs := pflag.NewFlagSet("scalesocket", pflag.ContinueOnError)

	addr := fs.String("addr", defaultAddr, "bind address")
	binary := fs.BoolP("binary", "b", false, "bytes mode: no newline framing, binary WebSocket frames")
	tcp := fs.Bool("tcp", false, "child I/O over TCP on an allocated port")
	tcpports := fs.String("tcpports", fmt.Sprintf("%d:%d", defaultTCPStart, defaultTCPEnd), "START:END port range for --tcp")
	delay := fs.Float64("delay", -1, "pre-attach delay in seconds (defaults to 1s under --tcp, 0 otherwise)")
	frame := fs.String("frame", "", "framing for both directions: json|gwsocket")
	clientFrame := fs.String("clientframe", "", "framing for client->child")
	serverFrame := fs.String("serverframe", "", "framing for child->client")
	jsonShortcut := fs.Bool("json", false, "shortcut for --frame=json with default join/leave templates")
	joinmsg := fs.String("joinmsg", "", "template sent to the child when a client joins")
	leavemsg := fs.String("leavemsg", "", "template sent to the child when a client leaves")
	cacheFlag := fs.String("cache", "", "[TYPE:]SIZE, TYPE in {all,tagged}, SIZE in {1,8,64}")
	cachepersist := fs.Bool("cachepersist", false, "retain the cache across child restarts")
	passenv := fs.String("passenv", strings.Join(defaultPassEnv, ","), "comma-separated host env allowlist")
	staticdir := fs.String("staticdir", "", "serve static files from this directory")
	metrics := fs.Bool("metrics", false, "expose /metrics (OpenMetrics)")
	api := fs.Bool("api", false, "expose /api/rooms and /api/<room>")
	oneshot := fs.Bool("oneshot", false, "exit after the first room ends")
	logFormat := fs.String("log", "text", "log format: text|json")
	verbosity := fs.CountP("verbose", "v", "increase log verbosity (repeatable, up to 2)")

	if err := fs.Parse(argv); err != nil {
		return Config{}, err
	}

	positional := fs.Args()
	if len(positional) < 1 {
		return Config{}, fmt.Errorf("config: missing required <cmd>")
	}

	cfg := Config{
		Addr:         *addr,
		Cmd:          positional[0],
		Args:         positional[1:],
		Binary:       *binary,
		TCP:          *tcp,
		JoinMsg:      *joinmsg,
		LeaveMsg:     *leavemsg,
		CachePersist: *cachepersist,
		StaticDir:    *staticdir,
		Metrics:      *metrics,
		API:          *api,
		Oneshot:      *oneshot,
		LogFormat:    *logFormat,
		Verbosity:    *verbosity,
	}

	start, end, err := parseTCPPorts(*tcpports)
	if err != nil {
		return Config{}, err
	}
	cfg.TCPStart, cfg.TCPEnd = start, end

	if *delay >= 0 {
		cfg.DelaySec = *delay
		cfg.delaySet = true
	} else if cfg.TCP {
		cfg.DelaySec = defaultAttachDelay
	}

	clientFraming, serverFraming, err := resolveFraming(*jsonShortcut, *frame, *clientFrame, *serverFrame)
	if err != nil {
		return Config{}, err
	}
	cfg.ClientFraming = clientFraming
	cfg.ServerFraming = serverFraming

	if cfg.ClientFraming == codec.FramingGWSocket {
		return Config{}, fmt.Errorf("config: gwsocket framing is not supported client->child")
	}

	if *jsonShortcut {
		if cfg.JoinMsg == "" {
			cfg.JoinMsg = `{"_event":"join","_from":#ID}`
		}
		if cfg.LeaveMsg == "" {
			cfg.LeaveMsg = `{"_event":"leave","_from":#ID}`
		}
	}

	if *cacheFlag != "" {
		size, policy, err := parseCacheFlag(*cacheFlag)
		if err != nil {
			return Config{}, err
		}
		cfg.CacheEnabled = true
		cfg.CacheSize = size
		cfg.CachePolicy = policy
	}

	if cfg.CachePersist && !cfg.CacheEnabled {
		return Config{}, fmt.Errorf("config: --cachepersist requires --cache")
	}

	cfg.PassEnv = splitNonEmpty(*passenv)

	return cfg, nil
}

func parseTCPPorts(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: --tcpports must be START:END, got %q", s)
	}
	start, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid --tcpports start: %w", err)
	}
	end, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid --tcpports end: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("config: --tcpports range must be non-empty, got %q", s)
	}
	return uint16(start), uint16(end), nil
}

func resolveFraming(jsonShortcut bool, frame, clientFrame, serverFrame string) (codec.Framing, codec.Framing, error) {
	if jsonShortcut && frame == "" {
		frame = "json"
	}

	if frame != "" && (clientFrame != "" || serverFrame != "") {
		return 0, 0, fmt.Errorf("config: --frame is mutually exclusive with --clientframe/--serverframe")
	}

	if frame != "" {
		f, err := codec.ParseFraming(frame)
		if err != nil {
			return 0, 0, err
		}
		return f, f, nil
	}

	cf, err := codec.ParseFraming(clientFrame)
	if err != nil {
		return 0, 0, err
	}
	sf, err := codec.ParseFraming(serverFrame)
	if err != nil {
		return 0, 0, err
	}
	return cf, sf, nil
}

func parseCacheFlag(s string) (int, cache.Policy, error) {
	typ := "all"
	sizeStr := s
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		typ = s[:idx]
		sizeStr = s[idx+1:]
	}

	policy, ok := cache.ParsePolicy(typ)
	if !ok {
		return 0, 0, fmt.Errorf("config: unknown --cache type %q", typ)
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid --cache size %q: %w", sizeStr, err)
	}
	if !cache.ValidSize(size) {
		return 0, 0, fmt.Errorf("config: --cache size must be one of 1, 8, 64, got %d", size)
	}
	return size, policy, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
