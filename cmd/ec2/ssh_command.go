package awsinfo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["ec2-ssh-command"] = ec2SshCommand
	lib.Args["ec2-ssh-command"] = ec2SshCommandArgs{}
}

type ec2SshCommandArgs struct {
	Find           string `arg:"-f,--find" help:"name, id or ip terms separated by , or field:pattern clauses"`
	Cmd            string `arg:"-c,--cmd" help:"remote command, an interactive session when empty"`
	Timeout        int    `arg:"-t,--timeout" default:"60" help:"seconds before a remote command is considered failed"`
	Quiet          bool   `arg:"-q,--quiet" help:"only print remote output"`
	NonInteractive bool   `arg:"-n,--non-interactive" help:"use every match without prompting"`
	PrivateIP      bool   `arg:"-P,--private-ip" help:"connect to ip_private instead of ip"`
	Profile        string `arg:"-p,--profile" help:"aws profile, defaults to $AWS_PROFILE then default"`
	Refresh        bool   `arg:"-r,--refresh" help:"fetch instances and update the collection before matching"`
	State          string `arg:"-s,--state" default:"running" help:"only instances with this status, empty for all"`
}

func (ec2SshCommandArgs) Description() string {
	return `
run a command over ssh on matching ec2 instances, or log in to them

example:
 - aws-info ec2-ssh-command -f web -c 'uptime'
 - aws-info ec2-ssh-command -f 'name:web,az:us-east-1a' -n -c 'df -h'
`
}

var sshFindFields = []string{"name", "id", "ip", "ip_private"}

func ec2SshCommand() {
	var args ec2SshCommandArgs
	arg.MustParse(&args)
	ctx := context.Background()
	if args.Quiet {
		lib.Logger.SetQuiet(true)
	}
	cfg, schema, err := lib.LoadConfigSchema()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	_, selectFormat, err := cfg.Templates(schema)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	profile := lib.ProfileName(args.Profile)
	storage := lib.OpenStorage(ctx, cfg)
	records, err := sshRecords(ctx, cfg, schema, storage, profile, args.Refresh)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	if args.State != "" {
		records = lib.FindItems(records, "status:="+args.State)
	}
	if strings.Contains(args.Find, ":") {
		records = lib.FindItems(records, args.Find)
	} else if args.Find != "" {
		records = lib.FindAny(records, lib.SplitList(args.Find), sshFindFields)
	}
	lib.SortByKeys(records, []string{"name", "id"})
	if len(records) == 0 {
		lib.Logger.Fatalf("error: no instances matched: %s\n", args.Find)
	}
	if len(records) > 1 && !args.NonInteractive && lib.Interactive() {
		records, err = lib.NewPromptSelector().Select(records, "select instances", selectFormat)
		if err != nil {
			lib.Logger.Fatal("error: ", err)
		}
	}
	if args.Cmd == "" && len(records) > 1 {
		lib.Logger.Fatal("error: ", fmt.Errorf("an interactive session needs exactly one instance, got %d", len(records)))
	}
	keys, err := lib.LocalKeys(cfg.SSH.KeyDir)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	executor := lib.NewSSHExecutor()
	executor.PrefixLines = len(records) > 1
	dispatcher := &lib.Dispatcher{
		Fields:   lib.DefaultFields(),
		Keys:     keys,
		Prober:   &lib.SSHUserProber{Users: cfg.SSH.Users, Timeout: cfg.SSH.Timeout()},
		Executor: executor,
		Storage:  storage,
	}
	dispatcher.Fields.ID = cfg.IDField
	results := dispatcher.Dispatch(ctx, &lib.DispatchInput{
		Instances: records,
		Command:   args.Cmd,
		Timeout:   time.Duration(args.Timeout) * time.Second,
		PrivateIP: args.PrivateIP,
		Profile:   profile,
		Quiet:     args.Quiet,
		Out:       os.Stderr,
	})
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 && !args.Quiet {
		lib.Logger.Printf("%d of %d instances failed\n", failed, len(results))
	}
}

// sshRecords reads the profile's instances from the collection, where
// discovered login users are kept, fetching and storing them first when
// the collection has none or a refresh is asked for.
func sshRecords(ctx context.Context, cfg *lib.Config, schema *lib.Schema, storage lib.Storage, profile string, refresh bool) ([]lib.Record, error) {
	entries, err := storage.Entries(ctx, profile)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || refresh {
		fetcher, err := lib.NewEC2Fetcher(ctx, profile, schema)
		if err != nil {
			return nil, err
		}
		records, errs, err := fetcher.FetchRecords(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, err := range errs {
			lib.Logger.Println("skipped:", err)
		}
		reconciler := &lib.Reconciler{Storage: storage, IDField: cfg.IDField, Fields: schema.Fields()}
		result, err := reconciler.Reconcile(ctx, profile, records, lib.SkippedIDs(errs)...)
		if err != nil {
			return nil, err
		}
		for _, err := range result.Errors {
			lib.Logger.Println("error:", err)
		}
		entries, err = storage.Entries(ctx, profile)
		if err != nil {
			return nil, err
		}
	}
	var records []lib.Record
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return records, nil
}
