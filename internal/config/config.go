// Package config loads bhdir's INI configuration file into a typed Config,
// per spec.md §6's key table. The teacher configures itself via flags/env
// directly in cmd/pot/main.go; bhdir's multi-section key table (directory,
// socket, cache, metrics) calls for a real INI parser instead, grounded on
// go-ini/ini's presence in the grailbio-base dependency pack.
package config

import (
	"os"
	"os/user"
	"strconv"

	"github.com/bhdir/bhdir/internal/bherrors"
	"gopkg.in/ini.v1"
)

// Directory holds spec.md §6's `directory.*` keys.
type Directory struct {
	Root     string `ini:"root"`
	User     string `ini:"user"`
	Group    string `ini:"group"`
	DirMode  string `ini:"dir_mode"`
	FileMode string `ini:"file_mode"`
}

// Socket holds spec.md §6's `socket.*` keys.
type Socket struct {
	Path  string `ini:"path"`
	User  string `ini:"user"`
	Group string `ini:"group"`
	Mode  string `ini:"mode"`
}

// Cache holds spec.md §6's `cache.*` keys.
type Cache struct {
	Redis string `ini:"redis"`
}

// Metrics holds the added ambient `metrics.*` key (SPEC_FULL.md §6); it
// names an observability surface the daemon itself exposes, not a feature
// of the directory namespace, so it isn't subject to spec.md's Non-goals.
type Metrics struct {
	ListenAddr string `ini:"listen_addr"`
}

// Config is bhdir's fully-parsed configuration file.
type Config struct {
	Directory Directory `ini:"directory"`
	Socket    Socket    `ini:"socket"`
	Cache     Cache     `ini:"cache"`
	Metrics   Metrics   `ini:"metrics"`
}

// Load parses the INI file at path into a Config, applying defaults for any
// key spec.md §6 doesn't mark required.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrIo, "load config %s: %v", path, err)
	}

	cfg := Default()
	if err := f.MapTo(cfg); err != nil {
		return nil, bherrors.Wrap(bherrors.ErrIo, "parse config %s: %v", path, err)
	}

	if cfg.Directory.Root == "" {
		return nil, bherrors.Wrap(bherrors.ErrInvalidPath, "config %s: directory.root is required", path)
	}

	return cfg, nil
}

// ParseMode parses an octal permission string ("0755") into an os.FileMode.
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, bherrors.Wrap(bherrors.ErrInvalidPath, "invalid mode %q: %v", s, err)
	}
	return os.FileMode(v), nil
}

// ResolveOwner looks up userName/groupName (either may be empty, skipping
// that half) and returns their uid/gid, for the directory.user/group and
// socket.user/group keys of spec.md §6. Grounded on
// ClusterCockpit-cc-backend's dropPrivileges user.Lookup/LookupGroup idiom.
func ResolveOwner(userName, groupName string) (uid, gid *int, err error) {
	if userName != "" {
		u, lookupErr := user.Lookup(userName)
		if lookupErr != nil {
			return nil, nil, bherrors.Wrap(bherrors.ErrIo, "lookup user %q: %v", userName, lookupErr)
		}
		n, convErr := strconv.Atoi(u.Uid)
		if convErr != nil {
			return nil, nil, bherrors.Wrap(bherrors.ErrIo, "parse uid for %q: %v", userName, convErr)
		}
		uid = &n
	}
	if groupName != "" {
		g, lookupErr := user.LookupGroup(groupName)
		if lookupErr != nil {
			return nil, nil, bherrors.Wrap(bherrors.ErrIo, "lookup group %q: %v", groupName, lookupErr)
		}
		n, convErr := strconv.Atoi(g.Gid)
		if convErr != nil {
			return nil, nil, bherrors.Wrap(bherrors.ErrIo, "parse gid for %q: %v", groupName, convErr)
		}
		gid = &n
	}
	return uid, gid, nil
}

// Default returns a Config populated with every non-required key's default,
// per spec.md §6 (only directory.root has no default, since it's required).
func Default() *Config {
	return &Config{
		Directory: Directory{
			DirMode:  "0755",
			FileMode: "0644",
		},
		Socket: Socket{
			Path: "/var/run/bhdir/bhdir.sock",
			Mode: "0600",
		},
		Metrics: Metrics{
			ListenAddr: "",
		},
	}
}
