// Package config loads the YAML deployment file naming which carrier
// binding to dial, the poll cadence to use, and the capability set to run,
// the way the teacher's cluster config is loaded: a single struct tagged
// for gopkg.in/yaml.v3 and unmarshaled wholesale from disk.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anywire/anywire/carrier"
)

// Config is the top-level document read from a YAML file, e.g.:
//
//	rid: home-node
//	medium: folder
//	folder:
//	  dir: /var/spool/anywire
//	socks:
//	  - capability: socks
//	    listen: 127.0.0.1:1080
//	  - capability: socks5
//	    listen: 127.0.0.1:1081
//	metrics_addr: 127.0.0.1:9090
type Config struct {
	Rid         string       `yaml:"rid"`
	Medium      string       `yaml:"medium"` // "folder", "ftp", "imap", or "s3"
	PollBase    time.Duration `yaml:"poll_base"`
	PollMax     time.Duration `yaml:"poll_max"`
	MetricsAddr string       `yaml:"metrics_addr"`
	// SeenDBDir, if set, makes the broadcast seen-ledger (session.Session's
	// SetSeenDBDir) file-backed under this directory instead of in-memory,
	// so already-processed broadcast uids are still remembered after this
	// process restarts. Empty means in-memory, scoped to one process run.
	SeenDBDir string `yaml:"seen_db_dir"`

	Folder *FolderConfig `yaml:"folder"`
	FTP    *FTPConfig    `yaml:"ftp"`
	IMAP   *IMAPConfig   `yaml:"imap"`
	S3     *S3Config     `yaml:"s3"`

	Socks []SocksConfig `yaml:"socks"`
}

type FolderConfig struct {
	Dir string `yaml:"dir"`
}

type FTPConfig struct {
	Addr string `yaml:"addr"`
	User string `yaml:"user"`
	Dir  string `yaml:"dir"`
	// Pass is intentionally absent: FTP credentials come from a cred.Store,
	// never from the config file (see cred package doc).
}

type IMAPConfig struct {
	Addr    string `yaml:"addr"`
	User    string `yaml:"user"`
	Mailbox string `yaml:"mailbox"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// SocksConfig names one front-end/back-end capability pair to run.
// Capability must be socks.CapabilitySocks4 or socks.CapabilitySocks5;
// this package does not import socks to avoid a dependency cycle with
// cmd/, which imports both.
type SocksConfig struct {
	Capability string `yaml:"capability"`
	Listen     string `yaml:"listen"`
}

const (
	defaultPollBase = 100 * time.Millisecond
	defaultPollMax  = 5 * time.Second
)

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.PollBase <= 0 {
		c.PollBase = defaultPollBase
	}
	if c.PollMax <= 0 {
		c.PollMax = defaultPollMax
	}
	if c.Rid == "" {
		return nil, fmt.Errorf("config: rid is required")
	}
	return &c, nil
}

// Poller builds the carrier.Poller dictated by PollBase/PollMax, labeled
// for the poll_backoffs_total metric with this config's Medium.
func (c *Config) Poller() *carrier.Poller {
	return carrier.NewPoller(c.PollBase, c.PollMax).WithMedium(c.Medium)
}

// Binding dials the medium named by c.Medium, looking up any required
// secret (FTP password, IMAP password, S3 credentials are left to the AWS
// SDK's own chain) through store.
func (c *Config) Binding(store credStore) (carrier.Binding, error) {
	switch c.Medium {
	case "folder":
		if c.Folder == nil {
			return nil, fmt.Errorf("config: medium folder requires a folder: section")
		}
		return carrier.NewFolderBinding(c.Folder.Dir)
	case "ftp":
		if c.FTP == nil {
			return nil, fmt.Errorf("config: medium ftp requires an ftp: section")
		}
		pass, err := store.Lookup(c.FTP.User + "@" + c.FTP.Addr)
		if err != nil {
			return nil, err
		}
		return carrier.DialFTP(c.FTP.Addr, c.FTP.User, pass, c.FTP.Dir)
	case "imap":
		if c.IMAP == nil {
			return nil, fmt.Errorf("config: medium imap requires an imap: section")
		}
		pass, err := store.Lookup(c.IMAP.User + "@" + c.IMAP.Addr)
		if err != nil {
			return nil, err
		}
		return carrier.DialIMAP(c.IMAP.Addr, c.IMAP.User, pass, c.IMAP.Mailbox)
	case "s3":
		if c.S3 == nil {
			return nil, fmt.Errorf("config: medium s3 requires an s3: section")
		}
		return carrier.NewS3Binding(context.Background(), c.S3.Bucket, c.S3.Prefix, c.S3.Endpoint)
	default:
		return nil, fmt.Errorf("config: unknown medium %q", c.Medium)
	}
}

// credStore is the subset of cred.Store this package needs; declared
// locally so config doesn't import cred for callers that only use the
// folder/s3 mediums (credStore is never touched).
type credStore interface {
	Lookup(name string) (string, error)
}
