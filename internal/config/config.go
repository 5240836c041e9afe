package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Pihole     PiholeConfig
	State      StateConfig
	Thresholds ThresholdConfig
	Quarantine QuarantineConfig
	CNAME      CNAMEConfig
	Learn      LearnConfig
	Heuristics HeuristicConfig
	Score      ScoreConfig
	Output     OutputConfig
	API        APIConfig
}

type PiholeConfig struct {
	FTLDB            string
	GravityDB        string
	QueryLog         string
	CLIPath          string
	SQLPromotion     bool
	PromotionGroup   string
	PromotionComment string
	Timeout          time.Duration
}

type StateConfig struct {
	QuarantineFile     string
	EventsFile         string
	CNAMECacheFile     string
	LearnedKeywordFile string
	ReviewJSONFile     string
	ReviewTSVFile      string
	LockFile           string
	LogFile            string
	MetricsFile        string
}

type ThresholdConfig struct {
	LookbackHours    int
	MinHits          uint64
	MinUniqueClients uint64
	MinHoursActive   uint64
	TopNCNAME        int
}

type QuarantineConfig struct {
	DwellHours        int
	PromotionMinScore float64
	DryRun            bool
}

type CNAMEConfig struct {
	MaxDepth      int
	CacheTTLHours int
	CacheOnly     bool
	Resolver      string
	Timeout       time.Duration
	RatePerSecond float64
}

type LearnConfig struct {
	Enabled            bool
	RefreshHours       int
	MinSupportFamilies int
	MaxKeywords        int
	Stopwords          []string
}

type HeuristicConfig struct {
	SuspiciousSubstrings []string
	SuspiciousTLDs       []string
	Allowlist            []string
	FamilyListThreshold  int
}

type ScoreConfig struct {
	HitsK       float64
	UniqK       float64
	HoursK      float64
	WeightHits  float64
	WeightUniq  float64
	WeightHours float64
	BoostCap    float64
}

type OutputConfig struct {
	BlocklistFile       string
	LegacyOutputSymlink string
	AllowFile           string
	ManualBlockFile     string
}

type APIConfig struct {
	Port string
	Mode string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/pihole-autoblocker")
	viper.SetEnvPrefix("AUTOBLOCKER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("pihole.ftldb", "/etc/pihole/pihole-FTL.db")
	viper.SetDefault("pihole.gravitydb", "/etc/pihole/gravity.db")
	viper.SetDefault("pihole.querylog", "/var/log/pihole/pihole.log")
	viper.SetDefault("pihole.clipath", "pihole")
	viper.SetDefault("pihole.sqlpromotion", false)
	viper.SetDefault("pihole.promotiongroup", "Default")
	viper.SetDefault("pihole.promotioncomment", "autoblocker")
	viper.SetDefault("pihole.timeout", "20s")

	viper.SetDefault("state.quarantinefile", "/var/lib/pihole-autoblocker/quarantine.json")
	viper.SetDefault("state.eventsfile", "/var/lib/pihole-autoblocker/state.json")
	viper.SetDefault("state.cnamecachefile", "/var/lib/pihole-autoblocker/cname_cache.json")
	viper.SetDefault("state.learnedkeywordfile", "/var/lib/pihole-autoblocker/learned_keywords.json")
	viper.SetDefault("state.reviewjsonfile", "/var/lib/pihole-autoblocker/quarantine_review.json")
	viper.SetDefault("state.reviewtsvfile", "/var/lib/pihole-autoblocker/quarantine.tsv")
	viper.SetDefault("state.lockfile", "/var/run/pihole-autoblocker.lock")
	viper.SetDefault("state.logfile", "/var/log/pihole-autoblocker.log")
	viper.SetDefault("state.metricsfile", "")

	viper.SetDefault("thresholds.lookbackhours", 24)
	viper.SetDefault("thresholds.minhits", 10)
	viper.SetDefault("thresholds.minuniqueclients", 2)
	viper.SetDefault("thresholds.minhoursactive", 0)
	viper.SetDefault("thresholds.topncname", 200)

	viper.SetDefault("quarantine.dwellhours", 12)
	viper.SetDefault("quarantine.promotionminscore", 0.90)
	viper.SetDefault("quarantine.dryrun", false)

	viper.SetDefault("cname.maxdepth", 0)
	viper.SetDefault("cname.cachettlhours", 24)
	viper.SetDefault("cname.cacheonly", false)
	viper.SetDefault("cname.resolver", "127.0.0.1:53")
	viper.SetDefault("cname.timeout", "4s")
	viper.SetDefault("cname.ratepersecond", 20)

	viper.SetDefault("learn.enabled", false)
	viper.SetDefault("learn.refreshhours", 24)
	viper.SetDefault("learn.minsupportfamilies", 8)
	viper.SetDefault("learn.maxkeywords", 200)

	viper.SetDefault("heuristics.familylistthreshold", 0)

	viper.SetDefault("score.hitsk", 20)
	viper.SetDefault("score.uniqk", 3)
	viper.SetDefault("score.hoursk", 6)
	viper.SetDefault("score.weighthits", 0.4)
	viper.SetDefault("score.weightuniq", 0.3)
	viper.SetDefault("score.weighthours", 0.3)
	viper.SetDefault("score.boostcap", 0.6)

	viper.SetDefault("output.blocklistfile", "/etc/pihole/pihole-autoblocker.txt")
	viper.SetDefault("output.allowfile", "/etc/pihole/pihole-autoblocker.allow.txt")
	viper.SetDefault("output.manualblockfile", "/etc/pihole/pihole-autoblocker.manual-block.txt")

	viper.SetDefault("api.port", "8089")
	viper.SetDefault("api.mode", "release")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot run a cycle. This is the
// only fatal error class: it fires before any state is touched.
func (c *Config) Validate() error {
	if c.Pihole.FTLDB == "" && c.Pihole.QueryLog == "" {
		return fmt.Errorf("config: one of pihole.ftldb or pihole.querylog is required")
	}
	if c.Pihole.GravityDB == "" {
		return fmt.Errorf("config: pihole.gravitydb is required")
	}
	if c.State.QuarantineFile == "" {
		return fmt.Errorf("config: state.quarantinefile is required")
	}
	if c.State.EventsFile == "" {
		return fmt.Errorf("config: state.eventsfile is required")
	}
	if c.State.LockFile == "" {
		return fmt.Errorf("config: state.lockfile is required")
	}
	if c.Thresholds.LookbackHours <= 0 {
		return fmt.Errorf("config: thresholds.lookbackhours must be positive")
	}
	if c.Quarantine.PromotionMinScore < 0 || c.Quarantine.PromotionMinScore > 1 {
		return fmt.Errorf("config: quarantine.promotionminscore must be in [0,1]")
	}
	w := c.Score.WeightHits + c.Score.WeightUniq + c.Score.WeightHours
	if w < 0.999 || w > 1.001 {
		return fmt.Errorf("config: score weights must sum to 1, got %.3f", w)
	}
	return nil
}

// Lookback returns the metrics lookback window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Thresholds.LookbackHours) * time.Hour
}

// StaleAfter returns the quarantine staleness-eviction window, fixed at
// three lookback windows.
func (c *Config) StaleAfter() time.Duration {
	return 3 * c.Lookback()
}

// Dwell returns the minimum quarantine residency before promotion.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Quarantine.DwellHours) * time.Hour
}
