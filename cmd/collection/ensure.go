package awsinfo

import (
	"context"
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["collection-ensure"] = collectionEnsure
	lib.Args["collection-ensure"] = collectionEnsureArgs{}
}

type collectionEnsureArgs struct {
	Table   string `arg:"positional" help:"table name, defaults to collection.table from the config"`
	Preview bool   `arg:"-p,--preview"`
}

func (collectionEnsureArgs) Description() string {
	return `
ensure the dynamodb table backing the instance collection, with an index per
configured lookup field
`
}

func collectionEnsure() {
	var args collectionEnsureArgs
	arg.MustParse(&args)
	ctx := context.Background()
	cfg, err := lib.LoadConfig()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	table := args.Table
	if table == "" {
		table = cfg.Collection.Table
	}
	if table == "" {
		lib.Logger.Fatal("error: ", fmt.Errorf("no table given and collection.table is not configured"))
	}
	client, err := lib.DynamoDBClient(ctx, cfg.Collection.Profile, cfg.Collection.Region)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	input := lib.DynamoDBTableInput(table, cfg.IDField, cfg.Collection.Indexes)
	err = lib.DynamoDBEnsureTable(ctx, client, input, args.Preview)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
}
