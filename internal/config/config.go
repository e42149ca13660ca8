// Package config parses the daemon's configuration file: a keyed,
// sectioned text format with three sections (General, Internal,
// S3RemoteStore), one option per line, unknown keys rejected and
// duplicate keys resolved last-wins.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

// Config holds every recognized option, read once at startup and treated
// as immutable for the life of the daemon.
type Config struct {
	FsMountPoint string
	PathMax      int
	RemoteProtocol string

	ScanIntervalSec       int
	DemoteStartRate       float64
	DemoteStopRate        float64
	PrimaryDemoteQSize    int
	SecondaryDemoteQSize  int
	PrimaryPromoteQSize   int
	SecondaryPromoteQSize int
	EvictionAgeSec        int

	// PromoteShmName, if set, names the POSIX shared-memory segment
	// backing the secondary promotion queue, so an out-of-process
	// interposition layer can enqueue promotion requests across
	// process boundaries. Empty means process-private memory.
	PromoteShmName string

	TransferProtocol string
	S3Endpoint       string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Retries        int
}

const defaultEvictionAgeSec = 30
const defaultPathMax = 4096

const (
	sectionGeneral  = "General"
	sectionInternal = "Internal"
	sectionS3       = "S3RemoteStore"
)

// sectionKeys enumerates the complete stable key surface per section.
// Any key not listed here is a config error, per the spec's "unknown
// keys are errors" rule.
var sectionKeys = map[string]map[string]bool{
	sectionGeneral: {
		"FsMountPoint":        true,
		"RemoteStoreProtocol": true,
		"PathMax":             true,
	},
	sectionInternal: {
		"ScanfsIterTimeoutSec":          true,
		"MoveOutStartRate":              true,
		"MoveOutStopRate":               true,
		"PrimaryUploadQueueMaxSize":     true,
		"SecondaryUploadQueueMaxSize":   true,
		"PrimaryDownloadQueueMaxSize":   true,
		"SecondaryDownloadQueueMaxSize": true,
		"EvictionAgeSec":                true,
		"PromoteQueueShmName":           true,
	},
	sectionS3: {
		"Hostname":          true,
		"Bucket":            true,
		"AccessKeyId":       true,
		"SecretAccessKey":   true,
		"TransferProtocol":  true,
		"OperationRetries":  true,
	},
}

var sectionTagRe = regexp.MustCompile(`^<(/?)([A-Za-z0-9]+)>$`)
var keyValueRe = regexp.MustCompile(`^(\S+)\s+(.+)$`)

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cterrors.New(cterrors.KindConfigInvalid, "config", "open config file").
			WithOperation("Load").WithCause(err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the keyed, sectioned format from r.
func Parse(r io.Reader) (*Config, error) {
	raw, err := parseRaw(r)
	if err != nil {
		return nil, err
	}
	return fromRaw(raw)
}

// parseRaw performs the textual parse: section tracking, unknown-key
// rejection, last-wins on duplicates. It returns a flat section.key -> value
// map so the numeric/string conversion stays separate from the grammar.
func parseRaw(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	section := ""
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := sectionTagRe.FindStringSubmatch(line); m != nil {
			closing, name := m[1] == "/", m[2]
			if closing {
				if section != name {
					return nil, parseErr(lineNo, fmt.Sprintf("mismatched closing tag </%s>", name))
				}
				section = ""
				continue
			}
			if _, known := sectionKeys[name]; !known {
				return nil, parseErr(lineNo, fmt.Sprintf("unknown section %q", name))
			}
			if section != "" {
				return nil, parseErr(lineNo, fmt.Sprintf("nested section %q inside %q", name, section))
			}
			section = name
			continue
		}

		if section == "" {
			return nil, parseErr(lineNo, "option outside of any section")
		}

		m := keyValueRe.FindStringSubmatch(line)
		if m == nil {
			return nil, parseErr(lineNo, fmt.Sprintf("malformed option line %q", line))
		}
		key, value := m[1], m[2]
		if !sectionKeys[section][key] {
			return nil, parseErr(lineNo, fmt.Sprintf("unknown key %q in section %q", key, section))
		}
		values[section+"."+key] = value // duplicate keys: last wins
	}
	if err := scanner.Err(); err != nil {
		return nil, cterrors.New(cterrors.KindConfigInvalid, "config", "read config").WithCause(err)
	}
	if section != "" {
		return nil, cterrors.New(cterrors.KindConfigInvalid, "config",
			fmt.Sprintf("section %q left unclosed", section))
	}
	return values, nil
}

func fromRaw(v map[string]string) (*Config, error) {
	cfg := &Config{
		PathMax:        defaultPathMax,
		EvictionAgeSec: defaultEvictionAgeSec,
	}

	var err error
	cfg.FsMountPoint = v[sectionGeneral+".FsMountPoint"]
	cfg.RemoteProtocol = v[sectionGeneral+".RemoteStoreProtocol"]
	if s, ok := v[sectionGeneral+".PathMax"]; ok {
		if cfg.PathMax, err = atoi("PathMax", s); err != nil {
			return nil, err
		}
	}

	if s, ok := v[sectionInternal+".ScanfsIterTimeoutSec"]; ok {
		if cfg.ScanIntervalSec, err = atoi("ScanfsIterTimeoutSec", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".MoveOutStartRate"]; ok {
		if cfg.DemoteStartRate, err = atof("MoveOutStartRate", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".MoveOutStopRate"]; ok {
		if cfg.DemoteStopRate, err = atof("MoveOutStopRate", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".PrimaryUploadQueueMaxSize"]; ok {
		if cfg.PrimaryDemoteQSize, err = atoi("PrimaryUploadQueueMaxSize", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".SecondaryUploadQueueMaxSize"]; ok {
		if cfg.SecondaryDemoteQSize, err = atoi("SecondaryUploadQueueMaxSize", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".PrimaryDownloadQueueMaxSize"]; ok {
		if cfg.PrimaryPromoteQSize, err = atoi("PrimaryDownloadQueueMaxSize", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".SecondaryDownloadQueueMaxSize"]; ok {
		if cfg.SecondaryPromoteQSize, err = atoi("SecondaryDownloadQueueMaxSize", s); err != nil {
			return nil, err
		}
	}
	if s, ok := v[sectionInternal+".EvictionAgeSec"]; ok {
		if cfg.EvictionAgeSec, err = atoi("EvictionAgeSec", s); err != nil {
			return nil, err
		}
	}
	cfg.PromoteShmName = v[sectionInternal+".PromoteQueueShmName"]

	cfg.S3Endpoint = v[sectionS3+".Hostname"]
	cfg.S3Bucket = v[sectionS3+".Bucket"]
	cfg.S3AccessKey = v[sectionS3+".AccessKeyId"]
	cfg.S3SecretKey = v[sectionS3+".SecretAccessKey"]
	cfg.TransferProtocol = v[sectionS3+".TransferProtocol"]
	if s, ok := v[sectionS3+".OperationRetries"]; ok {
		if cfg.S3Retries, err = atoi("OperationRetries", s); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the daemon assumes hold.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return cterrors.New(cterrors.KindConfigInvalid, "config", msg)
	}
	if c.FsMountPoint == "" {
		return invalid("fs_mount_point is required")
	}
	if c.RemoteProtocol != "s3" {
		return invalid(fmt.Sprintf("unsupported remote_protocol %q", c.RemoteProtocol))
	}
	if c.TransferProtocol != "http" && c.TransferProtocol != "https" {
		return invalid(fmt.Sprintf("transfer_protocol must be http or https, got %q", c.TransferProtocol))
	}
	if c.DemoteStartRate <= 0 || c.DemoteStartRate >= 1 {
		return invalid("demote_start_rate must be in (0,1)")
	}
	if c.DemoteStopRate <= 0 || c.DemoteStopRate >= 1 {
		return invalid("demote_stop_rate must be in (0,1)")
	}
	if c.DemoteStopRate >= c.DemoteStartRate {
		return invalid("demote_stop_rate must be lower than demote_start_rate")
	}
	if c.PrimaryDemoteQSize <= 0 || c.SecondaryDemoteQSize <= 0 {
		return invalid("demote queue sizes must be positive")
	}
	if c.PrimaryPromoteQSize <= 0 || c.SecondaryPromoteQSize <= 0 {
		return invalid("promote queue sizes must be positive")
	}
	if c.S3Bucket == "" {
		return invalid("s3 bucket is required")
	}
	if c.EvictionAgeSec < 0 {
		return invalid("eviction_age_sec must be non-negative")
	}
	return nil
}

func atoi(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, cterrors.New(cterrors.KindConfigInvalid, "config",
			fmt.Sprintf("%s: expected integer, got %q", key, s)).WithCause(err)
	}
	return n, nil
}

func atof(key, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, cterrors.New(cterrors.KindConfigInvalid, "config",
			fmt.Sprintf("%s: expected number, got %q", key, s)).WithCause(err)
	}
	return f, nil
}

func parseErr(line int, msg string) error {
	return cterrors.New(cterrors.KindConfigInvalid, "config", fmt.Sprintf("line %d: %s", line, msg))
}
