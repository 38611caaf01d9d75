package lib

import (
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigYAML = `
version: 1
id_field: id
keys:
  - InstanceId
  - InstanceType
  - ImageId
  - KeyName
  - LaunchTime
  - Placement__AvailabilityZone
  - PrivateIpAddress
  - PublicIpAddress
  - SecurityGroups__GroupName
  - State__Name
  - SubnetId
  - VpcId
  - Tags__Value
conditions:
  Tags__Value: {field: Key, equals: Name}
casts:
  LaunchTime: time
renames:
  InstanceId: id
  InstanceType: type
  ImageId: ami
  KeyName: pem
  LaunchTime: launch
  Placement__AvailabilityZone: az
  PrivateIpAddress: ip_private
  PublicIpAddress: ip
  SecurityGroups__GroupName: sg
  State__Name: status
  SubnetId: subnet
  VpcId: vpc
  Tags__Value: name
format: "{id} ({name}) {status} {type} {az} ip={ip} private={ip_private} pem={pem} launched {launch}"
select_format: "{id} ({name}) at {ip} ({ip_private}) using {pem}"
collection:
  indexes: [type, pem, az, subnet, ami, name, status]
ssh:
  key_dir: ~/.ssh
  users: [ec2-user, ubuntu, admin, centos, fedora, root]
  connect_timeout: 5
`

type ConditionConfig struct {
	Field    string `yaml:"field"`
	Equals   string `yaml:"equals"`
	Contains string `yaml:"contains"`
}

func (c ConditionConfig) Predicate() (Predicate, error) {
	switch {
	case c.Field == "":
		return nil, fmt.Errorf("condition needs a field")
	case c.Equals != "" && c.Contains != "":
		return nil, fmt.Errorf("condition on %s has both equals and contains", c.Field)
	case c.Contains != "":
		return FieldContains{Field: c.Field, Value: c.Contains}, nil
	case c.Equals != "":
		return FieldEquals{Field: c.Field, Value: c.Equals}, nil
	default:
		return nil, fmt.Errorf("condition on %s needs equals or contains", c.Field)
	}
}

type CollectionConfig struct {
	Table   string   `yaml:"table"`
	Region  string   `yaml:"region"`
	Profile string   `yaml:"profile"`
	Indexes []string `yaml:"indexes"`
}

type SSHConfig struct {
	KeyDir         string   `yaml:"key_dir"`
	Users          []string `yaml:"users"`
	ConnectTimeout int      `yaml:"connect_timeout"`
}

func (s SSHConfig) Timeout() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

type Config struct {
	Version      int                        `yaml:"version"`
	IDField      string                     `yaml:"id_field"`
	Keys         []string                   `yaml:"keys"`
	Conditions   map[string]ConditionConfig `yaml:"conditions"`
	Casts        map[string]string          `yaml:"casts"`
	Renames      RenameSpec                 `yaml:"renames"`
	Format       string                     `yaml:"format"`
	SelectFormat string                     `yaml:"select_format"`
	Collection   CollectionConfig           `yaml:"collection"`
	SSH          SSHConfig                  `yaml:"ssh"`
}

// UnmarshalYAML reads renames from a mapping, keeping document order.
func (r *RenameSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: renames must be a mapping", node.Line)
	}
	var renames RenameSpec
	for i := 0; i+1 < len(node.Content); i += 2 {
		var from, to string
		err := node.Content[i].Decode(&from)
		if err != nil {
			return err
		}
		err = node.Content[i+1].Decode(&to)
		if err != nil {
			return err
		}
		renames = append(renames, Rename{From: from, To: to})
	}
	*r = renames
	return nil
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(data, cfg)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	cfg, err := ParseConfig([]byte(DefaultConfigYAML))
	if err != nil {
		panic(err)
	}
	return cfg
}

// fillDefaults takes unset sections from the defaults. The schema keys,
// conditions and renames are one unit, so they only come from the defaults
// together.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.IDField == "" {
		c.IDField = d.IDField
	}
	if len(c.Keys) == 0 {
		c.Keys = d.Keys
		c.Conditions = d.Conditions
		c.Renames = d.Renames
		if c.Casts == nil {
			c.Casts = d.Casts
		}
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.SelectFormat == "" {
		c.SelectFormat = d.SelectFormat
	}
	if c.Collection.Indexes == nil {
		c.Collection.Indexes = d.Collection.Indexes
	}
	if c.SSH.KeyDir == "" {
		c.SSH.KeyDir = d.SSH.KeyDir
	}
	if len(c.SSH.Users) == 0 {
		c.SSH.Users = d.SSH.Users
	}
	if c.SSH.ConnectTimeout == 0 {
		c.SSH.ConnectTimeout = d.SSH.ConnectTimeout
	}
}

func ConfigPath() (string, error) {
	p := os.Getenv("AWS_INFO_CONFIG")
	if p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return path.Join(home, ".config", "aws-info", "config.yaml"), nil
}

// LoadConfig reads the config file when there is one and fills everything
// it leaves unset from the defaults.
func LoadConfig() (*Config, error) {
	p, err := ConfigPath()
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	cfg := &Config{}
	if Exists(p) {
		data, err := os.ReadFile(p)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		cfg, err = ParseConfig(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Schema validates the key paths, conditions, casts and renames and builds
// the transform they describe.
func (c *Config) Schema() (*Schema, error) {
	conditions := map[string]Predicate{}
	for p, cond := range c.Conditions {
		pred, err := cond.Predicate()
		if err != nil {
			err = &FilterPathError{Path: p, Reason: err.Error()}
			Logger.Println("error:", err)
			return nil, err
		}
		conditions[p] = pred
	}
	filter, err := NewFilterSpec(c.Keys, conditions)
	if err != nil {
		return nil, err
	}
	casts := map[string]Caster{}
	for k, name := range c.Casts {
		key, err := NormalizeKey(k)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		caster, err := LookupCast(name)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		casts[key] = caster
	}
	var renames RenameSpec
	for _, rn := range c.Renames {
		from, err := NormalizeKey(rn.From)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		if rn.To == "" {
			err := &FilterPathError{Path: rn.From, Reason: "rename to empty name"}
			Logger.Println("error:", err)
			return nil, err
		}
		renames = append(renames, Rename{From: from, To: rn.To})
	}
	return &Schema{Version: c.Version, Filter: filter, Casts: casts, Renames: renames}, nil
}

// KnownFields are the fields a stored entry can carry, the schema output
// plus what the collection adds.
func KnownFields(schema *Schema) []string {
	fields := schema.Fields()
	for _, f := range []string{FieldProfile, FieldAccount, FieldInserted, FieldSSHUser} {
		if !Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields
}

func (c *Config) Templates(schema *Schema) (format *Template, selectFormat *Template, err error) {
	known := KnownFields(schema)
	format, err = ParseTemplate(c.Format, known)
	if err != nil {
		Logger.Println("error:", err)
		return nil, nil, err
	}
	selectFormat, err = ParseTemplate(c.SelectFormat, known)
	if err != nil {
		Logger.Println("error:", err)
		return nil, nil, err
	}
	return format, selectFormat, nil
}

// LoadConfigSchema loads the config and builds its schema, the first step
// of every command.
func LoadConfigSchema() (*Config, *Schema, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, nil, err
	}
	return cfg, schema, nil
}
