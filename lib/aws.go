package lib

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"gopkg.in/ini.v1"
)

const DefaultProfile = "default"

// ProfileName is the name records are stored under, the explicit profile,
// then $AWS_PROFILE, then default.
func ProfileName(profile string) string {
	if profile != "" {
		return profile
	}
	if env := os.Getenv("AWS_PROFILE"); env != "" {
		return env
	}
	return DefaultProfile
}

var sessions = make(map[string]*aws.Config)
var sessionsLock sync.Mutex

// Session loads the shared aws config for profile, once per process.
func Session(ctx context.Context, profile string) (*aws.Config, error) {
	sessionsLock.Lock()
	defer sessionsLock.Unlock()
	sess, ok := sessions[profile]
	if !ok {
		var opts []func(*config.LoadOptions) error
		// an empty profile follows $AWS_PROFILE, default only needs naming
		// when $AWS_PROFILE points elsewhere
		if profile != "" && (profile != DefaultProfile || os.Getenv("AWS_PROFILE") != "") {
			opts = append(opts, config.WithSharedConfigProfile(profile))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		sess = &cfg
		sessions[profile] = sess
	}
	return sess, nil
}

func SessionRegion(ctx context.Context, profile, region string) (*aws.Config, error) {
	sess, err := Session(ctx, profile)
	if err != nil {
		return nil, err
	}
	if region == "" || region == sess.Region {
		return sess, nil
	}
	cfg := sess.Copy()
	cfg.Region = region
	return &cfg, nil
}

func awsSharedFile(env, name string) string {
	p := os.Getenv(env)
	if p != "" {
		return p
	}
	p, err := ExpandHome("~/.aws/" + name)
	if err != nil {
		return ""
	}
	return p
}

// Profiles lists the profile names found in the shared credentials and
// config files.
func Profiles() ([]string, error) {
	seen := map[string]bool{}
	credsPath := awsSharedFile("AWS_SHARED_CREDENTIALS_FILE", "credentials")
	configPath := awsSharedFile("AWS_CONFIG_FILE", "config")
	if credsPath != "" && Exists(credsPath) {
		f, err := ini.Load(credsPath)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		for _, name := range f.SectionStrings() {
			if name != ini.DefaultSection {
				seen[name] = true
			}
		}
	}
	if configPath != "" && Exists(configPath) {
		f, err := ini.Load(configPath)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		for _, name := range f.SectionStrings() {
			switch {
			case name == DefaultProfile:
				seen[name] = true
			case strings.HasPrefix(name, "profile "):
				seen[strings.TrimSpace(strings.TrimPrefix(name, "profile "))] = true
			}
		}
	}
	var profiles []string
	for name := range seen {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles, nil
}
