package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ConfigPathEnv overrides the resolved config file location.
const ConfigPathEnv = "PATCHROULETTE_CONFIG"

// defaultAppName names the per-user directories when no app name is given.
const defaultAppName = "patchroulette"

// Paths holds the per-user locations of the config file, database and log file.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogPath    string
}

// Options selects the app directory name. DevMode appends "-dev" so a development
// build never touches the real database.
type Options struct {
	AppName string
	DevMode bool
}

// baseOverrides names the environment variables that relocate the config and data
// bases on one OS. Empty names mean the OS has no override.
type baseOverrides struct {
	config string
	data   string
}

var overridesByOS = map[string]baseOverrides{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// DefaultPaths returns the paths for the patchroulette app name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: defaultAppName})
}

// DefaultPathsWithOptions resolves paths for the running OS and user.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = defaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{ConfigPathEnv: os.Getenv(ConfigPathEnv)}
	if o, ok := overridesByOS[runtime.GOOS]; ok {
		env[o.config] = os.Getenv(o.config)
		env[o.data] = os.Getenv(o.data)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the base for the database and logs. Only Linux separates data
// from config; elsewhere they share the OS config dir.
func userDataDir(goos, configDir string) (string, error) {
	if goos != "linux" {
		return configDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("user home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// PathsFor resolves paths for goos from explicit base dirs and environment values.
// An env value for ConfigPathEnv replaces only the config file path.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, errors.New("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if o, ok := overridesByOS[goos]; ok {
		if v := strings.TrimSpace(env[o.config]); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(env[o.data]); v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	out := Paths{
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogPath:    filepath.Join(dataDir, "logs", appName+".log"),
	}
	if v := strings.TrimSpace(env[ConfigPathEnv]); v != "" {
		out.ConfigPath = v
	}
	return out, nil
}
