// Package config loads server configuration from the environment,
// following the same getEnv/getEnvInt/getEnvBool/getEnvDuration pattern
// the rest of this codebase's ancestor tuner configs use.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the recognised options from spec.md §6.
type Config struct {
	// Device-facing TCP.
	DeviceTCPHost string
	DeviceTCPPort int

	// Device-facing UDP.
	DeviceUDPPort int
	AuxUDPPorts   []int

	// Advertised in 0x9101 when the accept socket local address is a wildcard.
	VideoServerIP string
	VideoTCPPort  int
	VideoUDPPort  int

	// If true, session issues 0x9205 before 0x9101.
	TryVideoListFirst bool

	// Timeouts.
	MessageIdleTimeout time.Duration
	ListBufferTimeout  time.Duration
	FrameChainTimeout  time.Duration
	VideoNegoTimeout   time.Duration
	QueryCooldown      time.Duration

	// Soft cap; exceeded sessions are closed immediately after accept.
	MaxDeviceConnections int

	// Diagnostic UDP fallback (spec.md §6, §9 Open Questions).
	UDPRawVideoFallback bool

	// Ambient.
	AdminAddr       string // health/metrics HTTP bind address
	SQLiteStorePath string // "" disables the optional archival sink
	VideoFSMount    string // "" disables the FUSE mount
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	c := &Config{
		DeviceTCPHost:        getEnv("JT808_DEVICE_TCP_HOST", "0.0.0.0"),
		DeviceTCPPort:        getEnvInt("JT808_DEVICE_TCP_PORT", 7611),
		DeviceUDPPort:        getEnvInt("JT808_DEVICE_UDP_PORT", 7612),
		AuxUDPPorts:          getEnvIntList("JT808_AUX_UDP_PORTS"),
		VideoServerIP:        os.Getenv("JT808_VIDEO_SERVER_IP"),
		VideoTCPPort:         getEnvInt("JT808_VIDEO_TCP_PORT", 7611),
		VideoUDPPort:         getEnvInt("JT808_VIDEO_UDP_PORT", 7612),
		TryVideoListFirst:    getEnvBool("JT808_TRY_VIDEO_LIST_FIRST", false),
		MessageIdleTimeout:   getEnvDuration("JT808_MESSAGE_IDLE_TIMEOUT_S", 300*time.Second),
		ListBufferTimeout:    getEnvDuration("JT808_LIST_BUFFER_TIMEOUT_S", 10*time.Second),
		FrameChainTimeout:    getEnvDuration("JT808_FRAME_CHAIN_TIMEOUT_S", 5*time.Second),
		VideoNegoTimeout:     getEnvDuration("JT808_VIDEO_NEGO_TIMEOUT_S", 5*time.Second),
		QueryCooldown:        getEnvDuration("JT808_QUERY_COOLDOWN_S", 30*time.Second),
		MaxDeviceConnections: getEnvInt("JT808_MAX_DEVICE_CONNECTIONS", 4096),
		UDPRawVideoFallback:  getEnvBool("JT808_UDP_RAW_VIDEO_FALLBACK", true),
		AdminAddr:            getEnv("JT808_ADMIN_ADDR", ":7613"),
		SQLiteStorePath:      os.Getenv("JT808_SQLITE_STORE_PATH"),
		VideoFSMount:         os.Getenv("JT808_VIDEOFS_MOUNT"),
	}
	if c.MaxDeviceConnections <= 0 {
		c.MaxDeviceConnections = 4096
	}
	return c
}

// dedupeInts removes duplicate auxiliary UDP ports, per spec.md §6
// ("duplicates are ignored").
func dedupeInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvIntList(key string) []int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return dedupeInts(out)
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// also accept a bare integer as seconds, matching the "_S" suffix
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}
