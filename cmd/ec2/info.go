package awsinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["ec2-info"] = ec2Info
	lib.Args["ec2-info"] = ec2InfoArgs{}
}

type ec2InfoArgs struct {
	Query   string `arg:"positional" help:"field:pattern clauses separated by , ; or |"`
	Profile string `arg:"-p,--profile" help:"aws profile, defaults to $AWS_PROFILE then default"`
	Format  string `arg:"-f,--format" help:"line template like '{id} {name} {ip}'"`
	Keys    string `arg:"-k,--keys" help:"comma separated key paths to show instead of the configured ones"`
	State   string `arg:"-s,--state" help:"running | pending | stopping | stopped | shutting-down | terminated"`
	Sort    string `arg:"--sort" default:"name,id" help:"comma separated fields to sort by"`
	JSON    bool   `arg:"-j,--json" help:"print full records as json"`
}

func (ec2InfoArgs) Description() string {
	return "\nlist ec2 instances, one line per instance\n"
}

func ec2Info() {
	var args ec2InfoArgs
	arg.MustParse(&args)
	ctx := context.Background()
	cfg, err := lib.LoadConfig()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	if args.Keys != "" {
		paths, err := lib.ParseKeyPaths(args.Keys)
		if err != nil {
			lib.Logger.Fatal("error: ", err)
		}
		cfg.Keys = nil
		for _, p := range paths {
			cfg.Keys = append(cfg.Keys, p.Name())
		}
		conditions := cfg.Conditions
		cfg.Conditions = nil
		for k, cond := range conditions {
			name, err := lib.NormalizeKey(k)
			if err == nil && lib.Contains(cfg.Keys, name) {
				if cfg.Conditions == nil {
					cfg.Conditions = map[string]lib.ConditionConfig{}
				}
				cfg.Conditions[k] = cond
			}
		}
	}
	schema, err := cfg.Schema()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	format := args.Format
	if format == "" && args.Keys != "" {
		var parts []string
		for _, field := range schema.Fields() {
			parts = append(parts, "{"+field+"}")
		}
		format = strings.Join(parts, " ")
	}
	if format != "" {
		cfg.Format = format
	}
	tmpl, _, err := cfg.Templates(schema)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	fetcher, err := lib.NewEC2Fetcher(ctx, args.Profile, schema)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	records, errs, err := fetcher.FetchRecords(ctx, false, lib.EC2StateFilter(args.State)...)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	for _, err := range errs {
		lib.Logger.Println("skipped:", err)
	}
	records = lib.FindItems(records, args.Query)
	lib.SortByKeys(records, lib.SplitList(args.Sort))
	for _, r := range records {
		if args.JSON {
			fmt.Println(lib.Pformat(r.Any()))
			continue
		}
		fmt.Println(tmpl.Render(r))
	}
}
