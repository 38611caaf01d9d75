package awsinfo

import (
	"context"
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["ec2-update-collection"] = ec2UpdateCollection
	lib.Args["ec2-update-collection"] = ec2UpdateCollectionArgs{}
}

type ec2UpdateCollectionArgs struct {
	Profile string `arg:"-p,--profile" help:"aws profile, defaults to $AWS_PROFILE then default"`
	All     bool   `arg:"-a,--all" help:"update every profile in ~/.aws/credentials and ~/.aws/config"`
	Verbose bool   `arg:"-v,--verbose" help:"print every changed field"`
}

func (ec2UpdateCollectionArgs) Description() string {
	return "\nsync the instance collection with the current ec2 instances\n"
}

func ec2UpdateCollection() {
	var args ec2UpdateCollectionArgs
	arg.MustParse(&args)
	ctx := context.Background()
	cfg, schema, err := lib.LoadConfigSchema()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	profiles := []string{lib.ProfileName(args.Profile)}
	if args.All {
		profiles, err = lib.Profiles()
		if err != nil {
			lib.Logger.Fatal("error: ", err)
		}
		if len(profiles) == 0 {
			lib.Logger.Fatal("error: ", fmt.Errorf("no aws profiles found"))
		}
	}
	storage := lib.OpenStorage(ctx, cfg)
	lib.Logger.Println("collection:", storage.Name())
	failed := 0
	for _, profile := range profiles {
		err := updateProfile(ctx, cfg, schema, storage, profile, args.Verbose)
		if err != nil {
			if !args.All {
				lib.Logger.Fatal("error: ", err)
			}
			lib.Logger.Println(lib.Red("failed:"), profile, err)
			failed++
		}
	}
	if failed == len(profiles) {
		lib.Logger.Fatal("error: ", fmt.Errorf("every profile failed"))
	}
}

func updateProfile(ctx context.Context, cfg *lib.Config, schema *lib.Schema, storage lib.Storage, profile string, verbose bool) error {
	account, err := lib.StsAccount(ctx, profile)
	if err != nil {
		lib.Logger.Println("account unknown for profile:", profile)
	} else {
		lib.Logger.Println("profile:", profile, "account:", account)
	}
	fetcher, err := lib.NewEC2Fetcher(ctx, profile, schema)
	if err != nil {
		return err
	}
	records, errs, err := fetcher.FetchRecords(ctx, true)
	if err != nil {
		return err
	}
	for _, err := range errs {
		lib.Logger.Println("skipped:", err)
	}
	reconciler := &lib.Reconciler{
		Storage: storage,
		IDField: cfg.IDField,
		Fields:  schema.Fields(),
		Account: account,
	}
	result, err := reconciler.Reconcile(ctx, profile, fetcher.Cached(), lib.SkippedIDs(errs)...)
	if err != nil {
		return err
	}
	for _, err := range result.Errors {
		lib.Logger.Println(lib.Red("error:"), err)
	}
	if verbose {
		for _, add := range result.Adds {
			if add.Err == nil {
				lib.Logger.Println(lib.Green("added:"), add.ID)
			}
		}
		for _, update := range result.Updates {
			if update.Err == nil && len(update.Changed) > 0 {
				lib.Logger.Println(lib.Yellow("updated:"), update.ID, update.Changed)
			}
		}
		for _, h := range result.Deletes {
			lib.Logger.Println(lib.Red("deleted:"), h)
		}
		for _, id := range result.Kept {
			lib.Logger.Println(lib.Yellow("kept:"), id)
		}
	}
	fmt.Printf("%s: %d instances, %s\n", profile, len(records), result.Summary())
	return nil
}
