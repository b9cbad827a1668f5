package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/infrastructure/logger"
	"github.com/xtsnet/xtsd/version"
)

const (
	defaultConfigFilename = "xtsd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "xtsd.log"
	defaultErrLogFilename = "xtsd_err.log"
)

var (
	// DefaultHomeDir is the default home directory for xtsd.
	DefaultHomeDir = btcutil.AppDataDir("xtsd", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)
)

// Flags defines the configuration options for xtsd.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	RelayFee    int64  `long:"relayfee" description:"The minimum fee in base-asset subunits for admitting a transaction to the pending pool (overrides the network default)"`
	GenesisFile string `long:"genesisfile" description:"Path to a genesis document to bootstrap a fresh data directory from"`
	TrackStats  bool   `long:"trackstats" description:"Record per-slot production statistics"`
	Reindex     bool   `long:"reindex" description:"Rebuild the chain index from the raw block store on startup and then continue normally"`
	Profile     string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65535"`
	NetworkFlags
}

// Config defines the configuration options for xtsd.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	*Flags
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in xtsd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options. Command line options always take precedence.
func LoadConfig() (*Config, error) {
	cfgFlags := Flags{
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified. Any errors aside from the help message error can
	// be ignored here since they will be caught by the final parse below.
	preCfg := cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if ok := errors.As(err, &flagsErr); ok && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfgFlags, flags.Default)
	if preCfg.ConfigFile != defaultConfigFile || fileExists(preCfg.ConfigFile) {
		err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, errors.Wrapf(err, "error parsing config file %s",
					preCfg.ConfigFile)
			}
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Flags: &cfgFlags}

	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.NetParams().Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.NetParams().Name)
	if cfg.GenesisFile != "" {
		cfg.GenesisFile = cleanAndExpandPath(cfg.GenesisFile)
	}

	if cfg.RelayFee < 0 {
		return nil, errors.Errorf("relayfee cannot be negative")
	}

	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return nil, errors.New("the profile port must be between 1024 and 65535")
		}
	}

	// Initialize log rotation. After the log rotation has been initialized,
	// the logger variables may be used.
	initLog(filepath.Join(cfg.LogDir, defaultLogFilename),
		filepath.Join(cfg.LogDir, defaultErrLogFilename))

	if err := logger.ParseAndSetLogLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EffectiveRelayFee returns the configured relay-fee override, or the network
// default when none was given.
func (cfg *Config) EffectiveRelayFee() int64 {
	if cfg.RelayFee > 0 {
		return cfg.RelayFee
	}
	return cfg.NetParams().DefaultRelayFee
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

func initLog(logFile, errLogFile string) {
	log := logger.Get("CNFG")
	err := logger.BackendLog().AddLogFile(logFile, logger.LevelTrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s",
			logFile, logger.LevelTrace, err)
		os.Exit(1)
	}
	err = logger.BackendLog().AddLogFile(errLogFile, logger.LevelWarn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s",
			errLogFile, logger.LevelWarn, err)
		os.Exit(1)
	}
	err = logger.BackendLog().AddLogWriter(os.Stderr, logger.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding stderr log writer: %s", err)
		os.Exit(1)
	}
	err = logger.BackendLog().Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting the log backend: %s", err)
		os.Exit(1)
	}
	log.Debugf("Log rotation initialized")
}
